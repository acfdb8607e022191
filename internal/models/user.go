package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a tracked learner. Points and Level are derived state: they are only
// written by the progress service after a points ledger append, never directly.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	Points            int    `gorm:"not null;default:0" json:"points"`
	Level             string `gorm:"not null;default:''" json:"level"`
	UserSelectedLevel string `json:"user_selected_level"`

	IsAdmin  bool `gorm:"default:false" json:"is_admin"`
	IsActive bool `gorm:"default:true" json:"is_active"`

	Completions []CourseCompletion `gorm:"foreignKey:UserID" json:"-"`
	Sessions    []Session          `gorm:"foreignKey:UserID" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
