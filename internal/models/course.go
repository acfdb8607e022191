package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Course is a completable learning resource worth a fixed number of points.
type Course struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Title    string `gorm:"not null" json:"title"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	LevelTag string `gorm:"index" json:"level_tag"`
	Points   int    `gorm:"not null;default:0" json:"points"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
