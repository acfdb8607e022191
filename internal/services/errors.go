package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/learntrackhq/learntrack/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrCourseNotFound indicates the requested course does not exist.
	ErrCourseNotFound = apperrors.New("COURSE_NOT_FOUND", "Course not found", http.StatusNotFound)
	// ErrAlreadyCompleted rejects a second completion of the same course.
	ErrAlreadyCompleted = apperrors.New("COURSE_ALREADY_COMPLETED", "Course is already completed", http.StatusConflict)
	// ErrNotCompleted rejects an uncompletion of a course never completed.
	ErrNotCompleted = apperrors.New("COURSE_NOT_COMPLETED", "Course has not been completed", http.StatusConflict)
	// ErrRegressionDisallowed refuses an uncompletion that would lower the
	// user's level while the regression policy forbids it.
	ErrRegressionDisallowed = apperrors.New("LEVEL_REGRESSION_DISALLOWED", "This correction would lower the current level", http.StatusConflict)
	// ErrUnknownLevel rejects a self-selected level that is not in the level table.
	ErrUnknownLevel = apperrors.New("UNKNOWN_LEVEL", "Level is not configured", http.StatusBadRequest)
	// ErrAdminImmutable prevents destructive operations against admin accounts.
	ErrAdminImmutable = apperrors.New("USER_ADMIN_IMMUTABLE", "Admin accounts cannot be modified this way", http.StatusBadRequest)
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}
