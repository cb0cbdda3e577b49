package models

import (
	"time"

	"github.com/google/uuid"
)

// TriggerAccount authenticates an external automation system that injects
// dial targets through the inbound gateway. The caller is a machine, not a
// browser session, so auth is a per-account secret key (bcrypt-hashed at
// rest) instead of a user token.
type TriggerAccount struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UUID            uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_trigger_accounts_uuid" json:"uuid"`
	Name            string     `gorm:"not null;size:255" json:"name"`
	APIKeyID        string     `gorm:"not null;size:64;uniqueIndex:uk_trigger_accounts_key_id" json:"api_key_id"`
	SecretHash      string     `gorm:"not null;size:128" json:"-"`
	RateLimitPerMin int        `gorm:"not null;default:60" json:"rate_limit_per_min"`
	IsActive        *bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty"`
}

// TableName returns the table name for the model
func (TriggerAccount) TableName() string {
	return "trigger_accounts"
}

// BeforeCreate is called before creating a new record
func (a *TriggerAccount) BeforeCreate() error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

// TriggerAccountFilter represents filter criteria for trigger accounts
type TriggerAccountFilter struct {
	APIKeyID *string `json:"api_key_id,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}
