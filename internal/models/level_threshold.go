package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LevelThreshold maps a level name to the cumulative points required to enter
// it. Thresholds must be strictly increasing with DisplayOrder; the levels
// package validates the full set before it is ever consulted.
type LevelThreshold struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	Name           string `gorm:"uniqueIndex;not null" json:"name"`
	PointsRequired int    `gorm:"not null" json:"points_required"`
	DisplayOrder   int    `gorm:"not null;index" json:"display_order"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l *LevelThreshold) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
