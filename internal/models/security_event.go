package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Security event kinds recorded for auth-relevant activity.
const (
	EventFailedLogin        = "failed_login"
	EventSuccessfulLogin    = "successful_login"
	EventBlockedAttempt     = "blocked_attempt"
	EventSuspiciousActivity = "suspicious_activity"
	EventIPBlocked          = "ip_blocked"
	EventPasswordChange     = "password_change"
	EventLogout             = "logout"
)

// SecurityEvent is an append-only record of an auth-relevant event. The threat
// heuristic recounts recent rows from this table rather than keeping an
// in-memory counter, so the composite (ip, created_at) index bounds its scans.
type SecurityEvent struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	Kind      string         `gorm:"not null;index" json:"kind"`
	Username  string         `gorm:"index" json:"username,omitempty"`
	IPAddress string         `gorm:"index:idx_security_events_ip_time,priority:1" json:"ip_address,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"index:idx_security_events_ip_time,priority:2" json:"created_at"`
}

func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
