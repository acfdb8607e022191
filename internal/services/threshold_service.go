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

	"github.com/learntrackhq/learntrack/internal/levels"
	"github.com/learntrackhq/learntrack/internal/models"
	"github.com/learntrackhq/learntrack/pkg/logger"
	"github.com/learntrackhq/learntrack/pkg/metrics"
)

// ThresholdInput is one row of a replacement level table.
type ThresholdInput struct {
	Name           string `json:"name" validate:"required,max=64"`
	PointsRequired int    `json:"points_required" validate:"min=0"`
	DisplayOrder   int    `json:"display_order"`
}

// ThresholdService manages the level table. Updates replace the whole set
// atomically and resync every user's stored level against the new table.
type ThresholdService struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// NewThresholdService constructs a ThresholdService.
func NewThresholdService(db *gorm.DB, clock func() time.Time) (*ThresholdService, error) {
	if db == nil {
		return nil, errors.New("threshold service: db is required")
	}
	if clock == nil {
		clock = time.Now
	}

	return &ThresholdService{
		db:  db,
		now: clock,
		log: logger.WithModule("thresholds"),
	}, nil
}

// List returns the level table in display order.
func (s *ThresholdService) List(ctx context.Context) ([]models.LevelThreshold, error) {
	ctx = ensureContext(ctx)

	var thresholds []models.LevelThreshold
	if err := s.db.WithContext(ctx).
		Order("display_order ASC").
		Find(&thresholds).Error; err != nil {
		return nil, fmt.Errorf("threshold service: list: %w", err)
	}

	return thresholds, nil
}

// Replace swaps the level table for the supplied set and recomputes every
// user's level against it. The whole operation runs in one transaction; a
// malformed table is rejected before any row is touched.
func (s *ThresholdService) Replace(ctx context.Context, inputs []ThresholdInput) ([]models.LevelThreshold, error) {
	ctx = ensureContext(ctx)

	replacement := make([]models.LevelThreshold, 0, len(inputs))
	for i, input := range inputs {
		replacement = append(replacement, models.LevelThreshold{
			Name:           strings.TrimSpace(input.Name),
			PointsRequired: input.PointsRequired,
			DisplayOrder:   orderOrIndex(input.DisplayOrder, i),
		})
	}
	if err := levels.ValidateThresholds(replacement); err != nil {
		return nil, err
	}

	var resynced int

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.LevelThreshold{}).Error; err != nil {
			return fmt.Errorf("threshold service: clear table: %w", err)
		}
		if err := tx.Create(&replacement).Error; err != nil {
			return fmt.Errorf("threshold service: insert table: %w", err)
		}

		var users []models.User
		if err := tx.Find(&users).Error; err != nil {
			return fmt.Errorf("threshold service: load users: %w", err)
		}

		for i := range users {
			user := &users[i]

			snapshot, err := levels.Calculate(user.Points, replacement)
			if err != nil {
				return err
			}
			if user.Level == snapshot.CurrentLevel {
				continue
			}

			details, _ := json.Marshal(map[string]string{
				"from":    user.Level,
				"to":      snapshot.CurrentLevel,
				"trigger": "threshold_update",
			})
			entry := models.PointsLogEntry{
				UserID:       user.ID,
				Action:       models.PointsActionLevelChanged,
				PointsChange: 0,
				PointsBefore: user.Points,
				PointsAfter:  user.Points,
				Reason:       fmt.Sprintf("Level table updated: %s to %s", displayLevel(user.Level), snapshot.CurrentLevel),
				Details:      details,
				CreatedAt:    s.now(),
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("threshold service: append ledger: %w", err)
			}

			direction := "up"
			if levels.Compare(snapshot.CurrentLevel, user.Level, replacement) < 0 {
				direction = "down"
			}

			if err := tx.Model(user).Update("level", snapshot.CurrentLevel).Error; err != nil {
				return fmt.Errorf("threshold service: resync user: %w", err)
			}

			metrics.LevelTransitions.WithLabelValues(direction).Inc()
			resynced++
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("level table replaced",
		zap.Int("levels", len(replacement)),
		zap.Int("users_resynced", resynced),
	)

	return replacement, nil
}

func orderOrIndex(order, index int) int {
	if order > 0 {
		return order
	}
	return index + 1
}
