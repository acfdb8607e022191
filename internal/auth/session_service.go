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

// DefaultSessionTTL is the fallback session lifetime.
const DefaultSessionTTL = 24 * time.Hour

// DefaultWarnWindow is how close to expiry a session is flagged as expiring soon.
const DefaultWarnWindow = 5 * time.Minute

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	TTL         time.Duration
	TokenLength int
	// Sliding extends the expiry on every successful validation. The default
	// is a fixed expiry set at issuance.
	Sliding    bool
	WarnWindow time.Duration
	Clock      func() time.Time
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// SessionContext identifies the authenticated principal behind a valid token.
type SessionContext struct {
	UserID       string
	SessionID    string
	RemainingTTL time.Duration
	ExpiringSoon bool
}

var (
	// ErrSessionNotFound indicates that no session matches the presented token.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session invalidated by logout, password change, or an administrator.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that the session has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied token is malformed.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

// SessionService manages issuance, validation, and revocation of user sessions.
type SessionService struct {
	db         *gorm.DB
	guard      *security.Guard
	ttl        time.Duration
	tokenLen   int
	sliding    bool
	warnWindow time.Duration
	now        func() time.Time
}

// NewSessionService constructs a session manager backed by the provided database.
// The guard is optional; when present, issuance records a successful-login event.
func NewSessionService(db *gorm.DB, guard *security.Guard, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	length := cfg.TokenLength
	if length <= 0 {
		length = 48
	}

	warn := cfg.WarnWindow
	if warn <= 0 {
		warn = DefaultWarnWindow
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:         db,
		guard:      guard,
		ttl:        ttl,
		tokenLen:   length,
		sliding:    cfg.Sliding,
		warnWindow: warn,
		now:        clock,
	}, nil
}

// Issue creates a new active session and returns its opaque token.
func (s *SessionService) Issue(ctx context.Context, userID string, meta SessionMetadata) (string, *models.Session, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(userID) == "" {
		return "", nil, errors.New("session service: user id is required")
	}

	token, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return "", nil, fmt.Errorf("session service: generate token: %w", err)
	}

	now := s.now()

	session := &models.Session{
		UserID:     userID,
		Token:      token,
		IPAddress:  strings.TrimSpace(meta.IPAddress),
		UserAgent:  strings.TrimSpace(meta.UserAgent),
		ExpiresAt:  now.Add(s.ttl),
		LastUsedAt: now,
		CreatedAt:  now,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return "", nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()

	if s.guard != nil {
		var username string
		var user models.User
		if err := s.db.WithContext(ctx).Select("username").Take(&user, "id = ?", userID).Error; err == nil {
			username = user.Username
		}
		_ = s.guard.RecordEvent(ctx, security.Event{
			Kind:      models.EventSuccessfulLogin,
			Username:  username,
			IPAddress: session.IPAddress,
		})
	}

	return token, session, nil
}

// Validate resolves a presented token to its session context. Every expected
// failure is a typed error; the HTTP layer maps all of them to 401.
func (s *SessionService) Validate(ctx context.Context, token string) (*SessionContext, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionInvalidToken
	}

	var session models.Session
	err := s.db.WithContext(ctx).Where("token = ?", token).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	now := s.now()

	if session.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if !session.ExpiresAt.After(now) {
		return nil, ErrSessionExpired
	}

	updates := map[string]any{"last_used_at": now}
	expiresAt := session.ExpiresAt
	if s.sliding {
		expiresAt = now.Add(s.ttl)
		updates["expires_at"] = expiresAt
	}

	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", session.ID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("session service: touch session: %w", err)
	}

	remaining := expiresAt.Sub(now)

	return &SessionContext{
		UserID:       session.UserID,
		SessionID:    session.ID,
		RemainingTTL: remaining,
		ExpiringSoon: remaining <= s.warnWindow,
	}, nil
}

// Invalidate revokes the session behind a token. Revoking an already revoked
// or unknown token is a no-op.
func (s *SessionService) Invalidate(ctx context.Context, token string) error {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("token = ? AND revoked_at IS NULL", token).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("session service: invalidate session: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	return nil
}

// InvalidateByID revokes a session by identifier, used by the admin surface.
func (s *SessionService) InvalidateByID(ctx context.Context, sessionID string) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}

	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("session service: invalidate session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return nil
}

// InvalidateAll revokes every active session belonging to a user. Used after a
// password change to force re-authentication everywhere.
func (s *SessionService) InvalidateAll(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(userID) == "" {
		return 0, errors.New("session service: user id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return 0, fmt.Errorf("session service: invalidate user sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	return result.RowsAffected, nil
}

// ListActive returns active sessions, optionally scoped to one user.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]models.Session, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).
		Where("revoked_at IS NULL AND expires_at > ?", s.now())
	if strings.TrimSpace(userID) != "" {
		query = query.Where("user_id = ?", userID)
	}

	var sessions []models.Session
	if err := query.Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}
	return sessions, nil
}

// CleanupExpired removes sessions that are expired or revoked, keeping the
// active-session gauge consistent.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	now := s.now()

	var activeExpired int64
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("expires_at < ? AND revoked_at IS NULL", now).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("session service: count expired sessions: %w", err)
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Or("revoked_at IS NOT NULL").
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup sessions: %w", result.Error)
	}

	if activeExpired > 0 {
		metrics.ActiveSessions.Sub(float64(activeExpired))
	}

	return result.RowsAffected, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
