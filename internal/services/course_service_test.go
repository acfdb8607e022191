package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/learntrackhq/learntrack/internal/database/testutil"
	"github.com/learntrackhq/learntrack/internal/models"
)

func TestCourseServiceCRUD(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	service, err := NewCourseService(db)
	require.NoError(t, err)
	ctx := context.Background()

	created, err := service.Create(ctx, CourseInput{
		Title:    "  Structured Concurrency  ",
		Source:   "internal",
		LevelTag: "Intermediate",
		Points:   45,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "Structured Concurrency", created.Title)

	fetched, err := service.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 45, fetched.Points)

	updated, err := service.Update(ctx, created.ID, CourseInput{
		Title:  "Structured Concurrency",
		Source: "internal",
		Points: 60,
	})
	require.NoError(t, err)
	require.Equal(t, 60, updated.Points)

	require.NoError(t, service.Delete(ctx, created.ID))

	_, err = service.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrCourseNotFound)
	require.ErrorIs(t, service.Delete(ctx, created.ID), ErrCourseNotFound)
}

func TestCourseServiceDeleteKeepsAwardedPoints(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	courses, err := NewCourseService(db)
	require.NoError(t, err)
	progress := newProgressService(t, db, true)
	ctx := context.Background()

	user := createTestUser(t, db, "course-delete")
	course := createTestCourse(t, db, "Ephemeral", 35)

	_, err = progress.RecordCompletion(ctx, user.ID, course.ID)
	require.NoError(t, err)

	require.NoError(t, courses.Delete(ctx, course.ID))

	var completions int64
	require.NoError(t, db.Model(&models.CourseCompletion{}).
		Where("course_id = ?", course.ID).Count(&completions).Error)
	require.Zero(t, completions)

	var stored models.User
	require.NoError(t, db.Take(&stored, "id = ?", user.ID).Error)
	require.Equal(t, 35, stored.Points)

	var ledger int64
	require.NoError(t, db.Model(&models.PointsLogEntry{}).
		Where("user_id = ?", user.ID).Count(&ledger).Error)
	require.EqualValues(t, 1, ledger)
}

func TestCourseServiceListFilters(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	service, err := NewCourseService(db)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = service.Create(ctx, CourseInput{Title: "Gopher Basics", Source: "academy", LevelTag: "Beginner", Points: 10})
	require.NoError(t, err)
	_, err = service.Create(ctx, CourseInput{Title: "Advanced Gopher", Source: "academy", LevelTag: "Expert", Points: 90})
	require.NoError(t, err)
	_, err = service.Create(ctx, CourseInput{Title: "SQL Tuning", Source: "vendor", LevelTag: "Expert", Points: 50})
	require.NoError(t, err)

	results, total, err := service.List(ctx, CourseFilter{Search: "gopher"})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, results, 2)

	results, total, err = service.List(ctx, CourseFilter{LevelTag: "Expert", Source: "vendor"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "SQL Tuning", results[0].Title)
}

func TestCourseServiceListWithStatus(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	service, err := NewCourseService(db)
	require.NoError(t, err)
	progress := newProgressService(t, db, true)
	ctx := context.Background()

	user := createTestUser(t, db, "course-status")
	done := createTestCourse(t, db, "Status Done", 20)
	createTestCourse(t, db, "Status Pending", 20)

	_, err = progress.RecordCompletion(ctx, user.ID, done.ID)
	require.NoError(t, err)

	annotated, total, err := service.ListWithStatus(ctx, user.ID, CourseFilter{Search: "status"})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)

	byTitle := map[string]bool{}
	for _, course := range annotated {
		byTitle[course.Title] = course.Completed
	}
	require.True(t, byTitle["Status Done"])
	require.False(t, byTitle["Status Pending"])
}
