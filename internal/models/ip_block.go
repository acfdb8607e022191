package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IPBlock rejects authentication attempts from an address until BlockedUntil.
// Blocks expire naturally; the maintenance sweep removes stale rows.
type IPBlock struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	IPAddress    string    `gorm:"uniqueIndex;not null" json:"ip_address"`
	BlockedUntil time.Time `gorm:"not null;index" json:"blocked_until"`
	Reason       string    `json:"reason"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (b *IPBlock) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// InEffect reports whether the block still applies at the supplied instant.
func (b *IPBlock) InEffect(now time.Time) bool {
	return now.Before(b.BlockedUntil)
}
