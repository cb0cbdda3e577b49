package models

import (
	"time"
)

// DNCEntry is a permanent do-not-call record keyed by normalized phone
// number. The registry is global: every dispatch selection consults it
// before dialing, regardless of which broadcast the number appears in.
type DNCEntry struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PhoneNumber string    `gorm:"not null;size:20;uniqueIndex:uk_dnc_entries_phone" json:"phone_number"`
	Source      string    `gorm:"not null;size:32" json:"source"` // dtmf, operator, import
	Reason      *string   `gorm:"type:text" json:"reason,omitempty"`
	BroadcastID *uint     `json:"broadcast_id,omitempty"`
	CreatedAt   time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (DNCEntry) TableName() string {
	return "dnc_entries"
}

// DNC record sources
const (
	DNCSourceDTMF     = "dtmf"
	DNCSourceOperator = "operator"
	DNCSourceImport   = "import"
)

// DNCEntryFilter represents filter criteria for DNC entries
type DNCEntryFilter struct {
	PhoneNumber *string `json:"phone_number,omitempty"`
	Source      *string `json:"source,omitempty"`
}
