package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/learntrackhq/learntrack/internal/models"
	"github.com/learntrackhq/learntrack/internal/security"
	"github.com/learntrackhq/learntrack/pkg/crypto"
	"github.com/learntrackhq/learntrack/pkg/metrics"
)

var (
	// ErrInvalidCredentials is returned when the identity/password pair is invalid.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountDisabled signals that the user has been deactivated.
	ErrAccountDisabled = errors.New("auth: account disabled")
	// ErrIPBlocked rejects an attempt from a blocked address before the
	// password is ever checked.
	ErrIPBlocked = errors.New("auth: ip blocked")
)

// AuthenticateInput contains the credentials and client metadata for a login attempt.
type AuthenticateInput struct {
	Identifier string
	Password   string
	IPAddress  string
	UserAgent  string
}

// PasswordAuthenticator verifies username/password credentials, consulting the
// security guard for IP blocks before credentials are examined.
type PasswordAuthenticator struct {
	db       *gorm.DB
	guard    *security.Guard
	sessions *SessionService
	now      func() time.Time
}

// NewPasswordAuthenticator builds an authenticator over the shared database and guard.
func NewPasswordAuthenticator(db *gorm.DB, guard *security.Guard, sessions *SessionService, clock func() time.Time) (*PasswordAuthenticator, error) {
	if db == nil {
		return nil, errors.New("password auth: db is required")
	}
	if guard == nil {
		return nil, errors.New("password auth: security guard is required")
	}

	if clock == nil {
		clock = time.Now
	}

	return &PasswordAuthenticator{
		db:       db,
		guard:    guard,
		sessions: sessions,
		now:      clock,
	}, nil
}

// Authenticate verifies the supplied credentials and returns the user on success.
// Blocked addresses are rejected first and the attempt is still logged for audit
// continuity.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, input AuthenticateInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	identity := strings.TrimSpace(input.Identifier)
	ip := strings.TrimSpace(input.IPAddress)

	blocked, err := a.guard.IsBlocked(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("password auth: check block: %w", err)
	}
	if blocked {
		_ = a.guard.RecordEvent(ctx, security.Event{
			Kind:      models.EventBlockedAttempt,
			Username:  identity,
			IPAddress: ip,
			Detail:    "attempt rejected before credential verification",
		})
		metrics.AuthAttempts.WithLabelValues("blocked").Inc()
		return nil, ErrIPBlocked
	}

	if identity == "" || input.Password == "" {
		return nil, a.fail(ctx, identity, ip)
	}

	var user models.User
	err = a.db.WithContext(ctx).
		Where("LOWER(username) = LOWER(?) OR LOWER(email) = LOWER(?)", identity, identity).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, a.fail(ctx, identity, ip)
	}
	if err != nil {
		return nil, fmt.Errorf("password auth: query user: %w", err)
	}

	if !user.IsActive {
		_ = a.guard.RecordLoginAttempt(ctx, user.Username, ip, false)
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, ErrAccountDisabled
	}

	if !crypto.VerifyPassword(user.Password, input.Password) {
		return nil, a.fail(ctx, user.Username, ip)
	}

	now := a.now()
	if err := a.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"last_login_at": now,
		"last_login_ip": ip,
	}).Error; err != nil {
		return nil, fmt.Errorf("password auth: update user: %w", err)
	}
	user.LastLoginAt = &now
	user.LastLoginIP = ip

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	return &user, nil
}

// ChangePassword rehashes the credential and forces re-authentication
// everywhere by revoking every active session for the user.
func (a *PasswordAuthenticator) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(userID) == "" || newPassword == "" {
		return errors.New("password auth: user id and new password are required")
	}
	if currentPassword == "" {
		return ErrInvalidCredentials
	}

	var user models.User
	if err := a.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("password auth: find user: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, currentPassword) {
		return ErrInvalidCredentials
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("password auth: hash password: %w", err)
	}

	if err := a.db.WithContext(ctx).Model(&user).Update("password", hashed).Error; err != nil {
		return fmt.Errorf("password auth: update password: %w", err)
	}

	_ = a.guard.RecordEvent(ctx, security.Event{
		Kind:     models.EventPasswordChange,
		Username: user.Username,
	})

	if a.sessions != nil {
		if _, err := a.sessions.InvalidateAll(ctx, user.ID); err != nil {
			return fmt.Errorf("password auth: revoke sessions: %w", err)
		}
	}

	return nil
}

func (a *PasswordAuthenticator) fail(ctx context.Context, username, ip string) error {
	_ = a.guard.RecordLoginAttempt(ctx, username, ip, false)
	metrics.AuthAttempts.WithLabelValues("failure").Inc()
	return ErrInvalidCredentials
}
