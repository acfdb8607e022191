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
	"github.com/learntrackhq/learntrack/pkg/crypto"
)

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time { return c.current }

func (c *testClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func setupSessionService(t *testing.T, cfg SessionConfig) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	clock := &testClock{current: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	cfg.Clock = clock.Now

	guard, err := security.NewGuard(db, security.GuardConfig{Clock: clock.Now})
	require.NoError(t, err)

	svc, err := NewSessionService(db, guard, cfg)
	require.NoError(t, err)

	return db, svc, clock
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("password")
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hashed,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Model(user).Update("is_active", true).Error)
	return user
}

func TestIssueThenValidate(t *testing.T) {
	db, svc, clock := setupSessionService(t, SessionConfig{TTL: 24 * time.Hour})
	ctx := context.Background()
	user := createTestUser(t, db, "session-issue")

	token, session, err := svc.Issue(ctx, user.ID, SessionMetadata{IPAddress: "10.0.0.1 ", UserAgent: "unit-test"})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.True(t, session.ExpiresAt.Equal(clock.Now().Add(24*time.Hour)))

	sc, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, user.ID, sc.UserID)
	require.Equal(t, session.ID, sc.SessionID)
	require.False(t, sc.ExpiringSoon)

	var event models.SecurityEvent
	require.NoError(t, db.Where("kind = ? AND username = ?", models.EventSuccessfulLogin, user.Username).Take(&event).Error)
}

func TestValidateUnknownToken(t *testing.T) {
	_, svc, _ := setupSessionService(t, SessionConfig{})

	_, err := svc.Validate(context.Background(), "no-such-token")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Validate(context.Background(), "  ")
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestValidateAfterExpiry(t *testing.T) {
	db, svc, clock := setupSessionService(t, SessionConfig{TTL: time.Hour})
	ctx := context.Background()
	user := createTestUser(t, db, "session-expire")

	token, _, err := svc.Issue(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(61 * time.Minute)

	_, err = svc.Validate(ctx, token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestFixedExpiryDoesNotSlide(t *testing.T) {
	db, svc, clock := setupSessionService(t, SessionConfig{TTL: time.Hour})
	ctx := context.Background()
	user := createTestUser(t, db, "session-fixed")

	token, session, err := svc.Issue(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	_, err = svc.Validate(ctx, token)
	require.NoError(t, err)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.True(t, reloaded.ExpiresAt.Equal(session.ExpiresAt))
	require.True(t, reloaded.LastUsedAt.Equal(clock.Now()))
}

func TestSlidingExpiryExtends(t *testing.T) {
	db, svc, clock := setupSessionService(t, SessionConfig{TTL: time.Hour, Sliding: true})
	ctx := context.Background()
	user := createTestUser(t, db, "session-sliding")

	token, session, err := svc.Issue(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	_, err = svc.Validate(ctx, token)
	require.NoError(t, err)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.True(t, reloaded.ExpiresAt.After(session.ExpiresAt))

	// Sliding keeps the session alive past the original expiry.
	clock.Advance(30 * time.Minute)
	_, err = svc.Validate(ctx, token)
	require.NoError(t, err)
}

func TestExpiringSoonFlag(t *testing.T) {
	db, svc, clock := setupSessionService(t, SessionConfig{TTL: time.Hour, WarnWindow: 5 * time.Minute})
	ctx := context.Background()
	user := createTestUser(t, db, "session-warn")

	token, _, err := svc.Issue(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(56 * time.Minute)

	sc, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	require.True(t, sc.ExpiringSoon)
}

func TestInvalidateIsTerminalAndIdempotent(t *testing.T) {
	db, svc, _ := setupSessionService(t, SessionConfig{})
	ctx := context.Background()
	user := createTestUser(t, db, "session-invalidate")

	token, _, err := svc.Issue(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.Invalidate(ctx, token))
	require.NoError(t, svc.Invalidate(ctx, token)) // no-op, not an error

	_, err = svc.Validate(ctx, token)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestInvalidateAllLeavesOtherUsersAlone(t *testing.T) {
	db, svc, _ := setupSessionService(t, SessionConfig{})
	ctx := context.Background()
	alice := createTestUser(t, db, "session-all-alice")
	bob := createTestUser(t, db, "session-all-bob")

	tokenA1, _, err := svc.Issue(ctx, alice.ID, SessionMetadata{})
	require.NoError(t, err)
	tokenA2, _, err := svc.Issue(ctx, alice.ID, SessionMetadata{})
	require.NoError(t, err)
	tokenB, _, err := svc.Issue(ctx, bob.ID, SessionMetadata{})
	require.NoError(t, err)

	revoked, err := svc.InvalidateAll(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), revoked)

	_, err = svc.Validate(ctx, tokenA1)
	require.ErrorIs(t, err, ErrSessionRevoked)
	_, err = svc.Validate(ctx, tokenA2)
	require.ErrorIs(t, err, ErrSessionRevoked)

	_, err = svc.Validate(ctx, tokenB)
	require.NoError(t, err)
}

func TestCleanupExpiredRemovesStaleRows(t *testing.T) {
	db, svc, clock := setupSessionService(t, SessionConfig{TTL: time.Hour})
	ctx := context.Background()
	user := createTestUser(t, db, "session-cleanup")

	_, stale, err := svc.Issue(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	removed, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, removed, int64(1))

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", stale.ID).Count(&count).Error)
	require.Equal(t, int64(0), count)
}

func TestListActiveScopesToUser(t *testing.T) {
	db, svc, _ := setupSessionService(t, SessionConfig{})
	ctx := context.Background()
	user := createTestUser(t, db, "session-list")
	other := createTestUser(t, db, "session-list-other")

	_, _, err := svc.Issue(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)
	token, _, err := svc.Issue(ctx, other.ID, SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, svc.Invalidate(ctx, token))

	sessions, err := svc.ListActive(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, user.ID, sessions[0].UserID)

	sessions, err = svc.ListActive(ctx, other.ID)
	require.NoError(t, err)
	require.Empty(t, sessions)
}
