package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Point-affecting actions recorded in the ledger.
const (
	PointsActionCourseCompleted   = "course_completed"
	PointsActionCourseUncompleted = "course_uncompleted"
	PointsActionLevelSelected     = "level_selected"
	PointsActionLevelChanged      = "level_changed"
	PointsActionMigration         = "migration"
	PointsActionAdminAdjustment   = "admin_adjustment"
)

// PointsLogEntry is an immutable row in the append-only points ledger.
// PointsAfter = PointsBefore + PointsChange, and PointsAfter must equal the
// user's Points column at the time of insert; both writes happen inside one
// transaction holding the user row.
type PointsLogEntry struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"type:uuid;not null;index:idx_points_log_user_time,priority:1" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"-"`

	Action       string `gorm:"not null;index" json:"action"`
	PointsChange int    `gorm:"not null" json:"points_change"`
	PointsBefore int    `gorm:"not null" json:"points_before"`
	PointsAfter  int    `gorm:"not null" json:"points_after"`

	CourseID *string        `gorm:"type:uuid;index" json:"course_id,omitempty"`
	Course   *Course        `gorm:"foreignKey:CourseID" json:"course,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Details  datatypes.JSON `json:"details,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_points_log_user_time,priority:2" json:"created_at"`
}

func (p *PointsLogEntry) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
