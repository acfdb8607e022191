package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learntrackhq/learntrack/internal/levels"
	"github.com/learntrackhq/learntrack/internal/models"
	"github.com/learntrackhq/learntrack/pkg/logger"
	"github.com/learntrackhq/learntrack/pkg/metrics"
)

// ProgressConfig tunes the points ledger behaviour.
type ProgressConfig struct {
	// AllowLevelRegression permits an uncompletion to lower the user's
	// computed level. When false, corrections that would cross a threshold
	// downward are refused.
	AllowLevelRegression bool
	Clock                func() time.Time
}

// ProgressService owns the points ledger and the derived points/level state on
// users. Every point-affecting action appends a ledger row and syncs the user
// row inside one transaction holding the user's row lock, so two concurrent
// completions can never observe the same points_before.
type ProgressService struct {
	db              *gorm.DB
	allowRegression bool
	now             func() time.Time
	log             *zap.Logger
}

// NewProgressService constructs a ProgressService.
func NewProgressService(db *gorm.DB, cfg ProgressConfig) (*ProgressService, error) {
	if db == nil {
		return nil, errors.New("progress service: db is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &ProgressService{
		db:              db,
		allowRegression: cfg.AllowLevelRegression,
		now:             clock,
		log:             logger.WithModule("progress"),
	}, nil
}

// RecordCompletion marks the course completed for the user, appends the
// positive ledger entry, and recomputes the level.
func (s *ProgressService) RecordCompletion(ctx context.Context, userID, courseID string) (levels.Snapshot, error) {
	ctx = ensureContext(ctx)

	var snapshot levels.Snapshot

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, course, err := s.lockUserAndCourse(tx, userID, courseID)
		if err != nil {
			return err
		}

		completion := models.CourseCompletion{
			UserID:      user.ID,
			CourseID:    course.ID,
			CompletedAt: s.now(),
		}
		if err := tx.Create(&completion).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrAlreadyCompleted
			}
			return fmt.Errorf("progress service: create completion: %w", err)
		}

		snapshot, err = s.applyDelta(tx, user, deltaInput{
			action:   models.PointsActionCourseCompleted,
			delta:    course.Points,
			courseID: &course.ID,
			reason:   fmt.Sprintf("Completed %q", course.Title),
		})
		return err
	})
	if err != nil {
		return levels.Snapshot{}, err
	}

	metrics.CourseCompletions.WithLabelValues("complete").Inc()
	return snapshot, nil
}

// RecordUncompletion reverses a completion with a negative ledger entry of
// equal magnitude, recomputing the level downward where the policy permits.
func (s *ProgressService) RecordUncompletion(ctx context.Context, userID, courseID string) (levels.Snapshot, error) {
	ctx = ensureContext(ctx)

	var snapshot levels.Snapshot

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, course, err := s.lockUserAndCourse(tx, userID, courseID)
		if err != nil {
			return err
		}

		result := tx.Where("user_id = ? AND course_id = ?", user.ID, course.ID).
			Delete(&models.CourseCompletion{})
		if result.Error != nil {
			return fmt.Errorf("progress service: delete completion: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotCompleted
		}

		snapshot, err = s.applyDelta(tx, user, deltaInput{
			action:   models.PointsActionCourseUncompleted,
			delta:    -course.Points,
			courseID: &course.ID,
			reason:   fmt.Sprintf("Uncompleted %q", course.Title),
		})
		return err
	})
	if err != nil {
		return levels.Snapshot{}, err
	}

	metrics.CourseCompletions.WithLabelValues("uncomplete").Inc()
	return snapshot, nil
}

// AdjustPoints applies an administrative correction to a user's points.
func (s *ProgressService) AdjustPoints(ctx context.Context, userID string, delta int, reason string) (levels.Snapshot, error) {
	ctx = ensureContext(ctx)

	if delta == 0 {
		return levels.Snapshot{}, errors.New("progress service: zero adjustment")
	}

	var snapshot levels.Snapshot

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.lockUser(tx, userID)
		if err != nil {
			return err
		}

		snapshot, err = s.applyDelta(tx, user, deltaInput{
			action: models.PointsActionAdminAdjustment,
			delta:  delta,
			reason: strings.TrimSpace(reason),
		})
		return err
	})
	if err != nil {
		return levels.Snapshot{}, err
	}

	return snapshot, nil
}

// GetSnapshot evaluates the user's current points against the level table.
func (s *ProgressService) GetSnapshot(ctx context.Context, userID string) (levels.Snapshot, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return levels.Snapshot{}, ErrUserNotFound
	}
	if err != nil {
		return levels.Snapshot{}, fmt.Errorf("progress service: load user: %w", err)
	}

	thresholds, err := s.loadThresholds(s.db.WithContext(ctx))
	if err != nil {
		return levels.Snapshot{}, err
	}

	return levels.Calculate(user.Points, thresholds)
}

// SelectLevel records the user's self-reported level. It is independent of the
// computed level and leaves the points total untouched.
func (s *ProgressService) SelectLevel(ctx context.Context, userID, level string) error {
	ctx = ensureContext(ctx)

	level = strings.TrimSpace(level)
	if level == "" {
		return ErrUnknownLevel
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.lockUser(tx, userID)
		if err != nil {
			return err
		}

		thresholds, err := s.loadThresholds(tx)
		if err != nil {
			return err
		}

		var match string
		for _, threshold := range thresholds {
			if strings.EqualFold(threshold.Name, level) {
				match = threshold.Name
				break
			}
		}
		if match == "" {
			return ErrUnknownLevel
		}

		if err := tx.Model(user).Update("user_selected_level", match).Error; err != nil {
			return fmt.Errorf("progress service: update selected level: %w", err)
		}

		entry := models.PointsLogEntry{
			UserID:       user.ID,
			Action:       models.PointsActionLevelSelected,
			PointsChange: 0,
			PointsBefore: user.Points,
			PointsAfter:  user.Points,
			Reason:       fmt.Sprintf("Selected level %s", match),
			CreatedAt:    s.now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("progress service: append ledger: %w", err)
		}

		return nil
	})
}

// Ledger returns the user's points history, newest first.
func (s *ProgressService) Ledger(ctx context.Context, userID string, page, perPage int) ([]models.PointsLogEntry, int64, error) {
	ctx = ensureContext(ctx)

	page, perPage = normalisePage(page, perPage)

	query := s.db.WithContext(ctx).
		Model(&models.PointsLogEntry{}).
		Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("progress service: count ledger: %w", err)
	}

	var entries []models.PointsLogEntry
	if err := query.
		Preload("Course").
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("progress service: list ledger: %w", err)
	}

	return entries, total, nil
}

// PurgeLedger removes a user's ledger rows. This is the only path that deletes
// ledger entries and exists solely for the administrative purge.
func (s *ProgressService) PurgeLedger(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.PointsLogEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("progress service: purge ledger: %w", result.Error)
	}

	s.log.Info("ledger purged",
		zap.String("user_id", userID),
		zap.Int64("entries", result.RowsAffected),
	)

	return result.RowsAffected, nil
}

type deltaInput struct {
	action   string
	delta    int
	courseID *string
	reason   string
}

// applyDelta appends the ledger entry and syncs the user's points/level. The
// caller must hold the user's row lock in tx.
func (s *ProgressService) applyDelta(tx *gorm.DB, user *models.User, input deltaInput) (levels.Snapshot, error) {
	thresholds, err := s.loadThresholds(tx)
	if err != nil {
		return levels.Snapshot{}, err
	}

	before := user.Points
	after := before + input.delta
	if after < 0 {
		return levels.Snapshot{}, fmt.Errorf("progress service: adjustment would leave %d points", after)
	}

	snapshot, err := levels.Calculate(after, thresholds)
	if err != nil {
		return levels.Snapshot{}, err
	}

	if !s.allowRegression && input.delta < 0 &&
		levels.Compare(snapshot.CurrentLevel, user.Level, thresholds) < 0 {
		return levels.Snapshot{}, ErrRegressionDisallowed
	}

	entry := models.PointsLogEntry{
		UserID:       user.ID,
		Action:       input.action,
		PointsChange: input.delta,
		PointsBefore: before,
		PointsAfter:  after,
		CourseID:     input.courseID,
		Reason:       input.reason,
		CreatedAt:    s.now(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return levels.Snapshot{}, fmt.Errorf("progress service: append ledger: %w", err)
	}

	if user.Level != snapshot.CurrentLevel {
		direction := "up"
		if levels.Compare(snapshot.CurrentLevel, user.Level, thresholds) < 0 {
			direction = "down"
		}

		details, _ := json.Marshal(map[string]string{
			"from": user.Level,
			"to":   snapshot.CurrentLevel,
		})
		transition := models.PointsLogEntry{
			UserID:       user.ID,
			Action:       models.PointsActionLevelChanged,
			PointsChange: 0,
			PointsBefore: after,
			PointsAfter:  after,
			Reason:       fmt.Sprintf("Level changed from %s to %s", displayLevel(user.Level), snapshot.CurrentLevel),
			Details:      details,
			CreatedAt:    s.now(),
		}
		if err := tx.Create(&transition).Error; err != nil {
			return levels.Snapshot{}, fmt.Errorf("progress service: append transition: %w", err)
		}

		metrics.LevelTransitions.WithLabelValues(direction).Inc()
	}

	if err := tx.Model(user).Updates(map[string]any{
		"points": after,
		"level":  snapshot.CurrentLevel,
	}).Error; err != nil {
		return levels.Snapshot{}, fmt.Errorf("progress service: sync user: %w", err)
	}

	user.Points = after
	user.Level = snapshot.CurrentLevel

	return snapshot, nil
}

func (s *ProgressService) lockUser(tx *gorm.DB, userID string) (*models.User, error) {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("progress service: lock user: %w", err)
	}
	return &user, nil
}

func (s *ProgressService) lockUserAndCourse(tx *gorm.DB, userID, courseID string) (*models.User, *models.Course, error) {
	user, err := s.lockUser(tx, userID)
	if err != nil {
		return nil, nil, err
	}

	var course models.Course
	err = tx.Take(&course, "id = ?", courseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("progress service: load course: %w", err)
	}

	return user, &course, nil
}

func (s *ProgressService) loadThresholds(tx *gorm.DB) ([]models.LevelThreshold, error) {
	var thresholds []models.LevelThreshold
	if err := tx.Order("display_order ASC").Find(&thresholds).Error; err != nil {
		return nil, fmt.Errorf("progress service: load thresholds: %w", err)
	}
	if err := levels.ValidateThresholds(thresholds); err != nil {
		return nil, err
	}
	return thresholds, nil
}

func displayLevel(level string) string {
	if strings.TrimSpace(level) == "" {
		return "(none)"
	}
	return level
}
