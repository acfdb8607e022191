package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/learntrackhq/learntrack/internal/database/testutil"
	"github.com/learntrackhq/learntrack/internal/models"
	"github.com/learntrackhq/learntrack/internal/security"
)

func setupAuthenticator(t *testing.T, guardCfg security.GuardConfig) (*gorm.DB, *PasswordAuthenticator, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	clock := &testClock{current: time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)}
	guardCfg.Clock = clock.Now

	guard, err := security.NewGuard(db, guardCfg)
	require.NoError(t, err)

	sessions, err := NewSessionService(db, guard, SessionConfig{Clock: clock.Now})
	require.NoError(t, err)

	authn, err := NewPasswordAuthenticator(db, guard, sessions, clock.Now)
	require.NoError(t, err)

	return db, authn, sessions, clock
}

func TestAuthenticateSuccess(t *testing.T) {
	db, authn, _, clock := setupAuthenticator(t, security.GuardConfig{})
	ctx := context.Background()
	user := createTestUser(t, db, "pw-success")

	got, err := authn.Authenticate(ctx, AuthenticateInput{
		Identifier: "pw-success",
		Password:   "password",
		IPAddress:  "198.51.100.1",
	})
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
	require.NotNil(t, got.LastLoginAt)
	require.True(t, got.LastLoginAt.Equal(clock.Now()))
	require.Equal(t, "198.51.100.1", got.LastLoginIP)
}

func TestAuthenticateByEmail(t *testing.T) {
	db, authn, _, _ := setupAuthenticator(t, security.GuardConfig{})
	ctx := context.Background()
	createTestUser(t, db, "pw-email")

	got, err := authn.Authenticate(ctx, AuthenticateInput{
		Identifier: "PW-EMAIL@example.com",
		Password:   "password",
		IPAddress:  "198.51.100.2",
	})
	require.NoError(t, err)
	require.Equal(t, "pw-email", got.Username)
}

func TestAuthenticateWrongPasswordLogsFailure(t *testing.T) {
	db, authn, _, _ := setupAuthenticator(t, security.GuardConfig{})
	ctx := context.Background()
	createTestUser(t, db, "pw-wrong")

	_, err := authn.Authenticate(ctx, AuthenticateInput{
		Identifier: "pw-wrong",
		Password:   "nope",
		IPAddress:  "198.51.100.3",
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	var count int64
	require.NoError(t, db.Model(&models.SecurityEvent{}).
		Where("kind = ? AND username = ?", models.EventFailedLogin, "pw-wrong").
		Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestBlockedIPRejectedBeforeCredentialCheck(t *testing.T) {
	db, authn, _, _ := setupAuthenticator(t, security.GuardConfig{FailureThreshold: 3, FailureWindow: 15 * time.Minute})
	ctx := context.Background()
	createTestUser(t, db, "pw-blocked")
	ip := "198.51.100.4"

	for i := 0; i < 3; i++ {
		_, err := authn.Authenticate(ctx, AuthenticateInput{
			Identifier: "pw-blocked",
			Password:   "nope",
			IPAddress:  ip,
		})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Correct credentials no longer matter.
	_, err := authn.Authenticate(ctx, AuthenticateInput{
		Identifier: "pw-blocked",
		Password:   "password",
		IPAddress:  ip,
	})
	require.ErrorIs(t, err, ErrIPBlocked)

	var count int64
	require.NoError(t, db.Model(&models.SecurityEvent{}).
		Where("kind = ? AND ip_address = ?", models.EventBlockedAttempt, ip).
		Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestAuthenticateDisabledAccount(t *testing.T) {
	db, authn, _, _ := setupAuthenticator(t, security.GuardConfig{})
	ctx := context.Background()
	user := createTestUser(t, db, "pw-disabled")
	require.NoError(t, db.Model(user).Update("is_active", false).Error)

	_, err := authn.Authenticate(ctx, AuthenticateInput{
		Identifier: "pw-disabled",
		Password:   "password",
		IPAddress:  "198.51.100.5",
	})
	require.ErrorIs(t, err, ErrAccountDisabled)
}

func TestChangePasswordInvalidatesAllSessions(t *testing.T) {
	db, authn, sessions, _ := setupAuthenticator(t, security.GuardConfig{})
	ctx := context.Background()
	user := createTestUser(t, db, "pw-change")

	token1, _, err := sessions.Issue(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)
	token2, _, err := sessions.Issue(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, authn.ChangePassword(ctx, user.ID, "password", "brand-new-secret"))

	_, err = sessions.Validate(ctx, token1)
	require.ErrorIs(t, err, ErrSessionRevoked)
	_, err = sessions.Validate(ctx, token2)
	require.ErrorIs(t, err, ErrSessionRevoked)

	// The new credential works and the old one does not.
	_, err = authn.Authenticate(ctx, AuthenticateInput{
		Identifier: "pw-change",
		Password:   "password",
		IPAddress:  "198.51.100.6",
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = authn.Authenticate(ctx, AuthenticateInput{
		Identifier: "pw-change",
		Password:   "brand-new-secret",
		IPAddress:  "198.51.100.6",
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.SecurityEvent{}).
		Where("kind = ? AND username = ?", models.EventPasswordChange, "pw-change").
		Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestChangePasswordRejectsWrongCurrent(t *testing.T) {
	db, authn, _, _ := setupAuthenticator(t, security.GuardConfig{})
	ctx := context.Background()
	user := createTestUser(t, db, "pw-change-wrong")

	err := authn.ChangePassword(ctx, user.ID, "incorrect", "whatever")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePasswordRejectsEmptyCurrent(t *testing.T) {
	db, authn, _, _ := setupAuthenticator(t, security.GuardConfig{})
	ctx := context.Background()
	user := createTestUser(t, db, "pw-change-empty")

	err := authn.ChangePassword(ctx, user.ID, "", "whatever")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// The stored hash must be untouched.
	var reloaded models.User
	require.NoError(t, db.Take(&reloaded, "id = ?", user.ID).Error)
	require.Equal(t, user.Password, reloaded.Password)
}
