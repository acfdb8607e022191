package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CourseCompletion marks a course as completed by a user. The (user, course)
// pair is unique: completing twice is a conflict, not a second row.
type CourseCompletion struct {
	ID       string  `gorm:"primaryKey;type:uuid" json:"id"`
	UserID   string  `gorm:"type:uuid;not null;uniqueIndex:idx_user_course" json:"user_id"`
	User     *User   `gorm:"foreignKey:UserID" json:"-"`
	CourseID string  `gorm:"type:uuid;not null;uniqueIndex:idx_user_course" json:"course_id"`
	Course   *Course `gorm:"foreignKey:CourseID" json:"course,omitempty"`

	CompletedAt time.Time `gorm:"not null" json:"completed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c *CourseCompletion) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
