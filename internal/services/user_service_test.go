package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/learntrackhq/learntrack/internal/database/testutil"
	"github.com/learntrackhq/learntrack/internal/models"
	"github.com/learntrackhq/learntrack/pkg/crypto"
)

func TestUserServiceCreate(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	service, err := NewUserService(db)
	require.NoError(t, err)
	ctx := context.Background()

	user, err := service.Create(ctx, CreateUserInput{
		Username: "UserCreate1",
		Email:    "UserCreate1@Example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	require.Equal(t, "usercreate1", user.Username)
	require.Equal(t, "usercreate1@example.com", user.Email)
	require.Equal(t, "Beginner", user.Level)
	require.Zero(t, user.Points)
	require.True(t, user.IsActive)
	require.True(t, crypto.VerifyPassword(user.Password, "correct-horse"))

	_, err = service.Create(ctx, CreateUserInput{
		Username: "usercreate1",
		Email:    "other@example.com",
		Password: "correct-horse",
	})
	require.ErrorIs(t, err, ErrUserExists)
}

func TestUserServiceListFilters(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	service, err := NewUserService(db)
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"listalpha", "listbeta", "listgamma"} {
		_, err := service.Create(ctx, CreateUserInput{
			Username: name,
			Email:    name + "@example.com",
			Password: "correct-horse",
		})
		require.NoError(t, err)
	}

	users, total, err := service.List(ctx, UserFilter{Search: "listal"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "listalpha", users[0].Username)

	inactive := false
	_, total, err = service.List(ctx, UserFilter{Active: &inactive})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestUserServiceSetActiveRefusesAdmins(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	service, err := NewUserService(db)
	require.NoError(t, err)
	ctx := context.Background()

	admin, err := service.Create(ctx, CreateUserInput{
		Username: "activeadmin",
		Email:    "activeadmin@example.com",
		Password: "correct-horse",
		IsAdmin:  true,
	})
	require.NoError(t, err)

	require.ErrorIs(t, service.SetActive(ctx, admin.ID, false), ErrAdminImmutable)
	require.NoError(t, service.SetActive(ctx, admin.ID, true))
}

func TestUserServiceDelete(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	service, err := NewUserService(db)
	require.NoError(t, err)
	progress := newProgressService(t, db, true)
	ctx := context.Background()

	user, err := service.Create(ctx, CreateUserInput{
		Username: "deleteuser",
		Email:    "deleteuser@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	course := createTestCourse(t, db, "Delete Fixture", 10)
	_, err = progress.RecordCompletion(ctx, user.ID, course.ID)
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, user.ID))

	_, err = service.GetByID(ctx, user.ID)
	require.ErrorIs(t, err, ErrUserNotFound)

	var ledger int64
	require.NoError(t, db.Model(&models.PointsLogEntry{}).
		Where("user_id = ?", user.ID).Count(&ledger).Error)
	require.Zero(t, ledger)
}

func TestUserServiceDeleteRefusesAdmins(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	service, err := NewUserService(db)
	require.NoError(t, err)
	ctx := context.Background()

	admin, err := service.Create(ctx, CreateUserInput{
		Username: "deleteadmin",
		Email:    "deleteadmin@example.com",
		Password: "correct-horse",
		IsAdmin:  true,
	})
	require.NoError(t, err)

	require.ErrorIs(t, service.Delete(ctx, admin.ID), ErrAdminImmutable)
}

func TestUserServiceEnsureAdmin(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	service, err := NewUserService(db)
	require.NoError(t, err)
	ctx := context.Background()

	created, err := service.EnsureAdmin(ctx, "ensureadmin", "ensureadmin@example.com", "correct-horse")
	require.NoError(t, err)
	require.True(t, created.IsAdmin)

	// Second call is idempotent and never rotates the password.
	again, err := service.EnsureAdmin(ctx, "ensureadmin", "ensureadmin@example.com", "different-password")
	require.NoError(t, err)
	require.Equal(t, created.ID, again.ID)
	require.True(t, crypto.VerifyPassword(again.Password, "correct-horse"))

	// An existing non-admin account with the name gets promoted.
	demoted, err := service.Create(ctx, CreateUserInput{
		Username: "ensureadmin2",
		Email:    "ensureadmin2@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	promoted, err := service.EnsureAdmin(ctx, "ensureadmin2", "ensureadmin2@example.com", "ignored-password")
	require.NoError(t, err)
	require.Equal(t, demoted.ID, promoted.ID)
	require.True(t, promoted.IsAdmin)
}
