package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DialTargetStatus represents the lifecycle status of a dial target
type DialTargetStatus string

const (
	DialTargetStatusPending     DialTargetStatus = "pending"
	DialTargetStatusCalling     DialTargetStatus = "calling"
	DialTargetStatusCompleted   DialTargetStatus = "completed"
	DialTargetStatusFailed      DialTargetStatus = "failed"
	DialTargetStatusNoAnswer    DialTargetStatus = "no_answer"
	DialTargetStatusVoicemail   DialTargetStatus = "voicemail"
	DialTargetStatusTransferred DialTargetStatus = "transferred"
	DialTargetStatusCallback    DialTargetStatus = "callback"
	DialTargetStatusDNC         DialTargetStatus = "dnc"
	DialTargetStatusTimedOut    DialTargetStatus = "timed_out"
	DialTargetStatusExhausted   DialTargetStatus = "exhausted"
)

// String returns the string representation of the status
func (s DialTargetStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s DialTargetStatus) Valid() bool {
	switch s {
	case DialTargetStatusPending, DialTargetStatusCalling, DialTargetStatusCompleted,
		DialTargetStatusFailed, DialTargetStatusNoAnswer, DialTargetStatusVoicemail,
		DialTargetStatusTransferred, DialTargetStatusCallback, DialTargetStatusDNC,
		DialTargetStatusTimedOut, DialTargetStatusExhausted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further dispatch can happen for this status.
// pending and calling are the only live states; callback is terminal for the
// row itself because the retry scheduler enqueues a fresh row instead of
// reusing it.
func (s DialTargetStatus) IsTerminal() bool {
	return s != DialTargetStatusPending && s != DialTargetStatusCalling
}

// IsActive reports whether the row still occupies the (broadcast, phone)
// uniqueness slot.
func (s DialTargetStatus) IsActive() bool {
	return s == DialTargetStatusPending || s == DialTargetStatusCalling
}

// Scan implements the sql.Scanner interface for DialTargetStatus
func (s *DialTargetStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = DialTargetStatus(v)
	case []byte:
		*s = DialTargetStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into DialTargetStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for DialTargetStatus
func (s DialTargetStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid DialTargetStatus: %s", s)
	}
	return string(s), nil
}

// CanTransitionTo checks if the target can transition to the given status.
// All writers go through compare-and-set repository methods, so this is the
// single source of truth for the state machine.
func (s DialTargetStatus) CanTransitionTo(newStatus DialTargetStatus) bool {
	switch s {
	case DialTargetStatusPending:
		// dnc covers the case where a number lands on the registry between
		// enqueue and dispatch
		return newStatus == DialTargetStatusCalling || newStatus == DialTargetStatusDNC
	case DialTargetStatusCalling:
		switch newStatus {
		case DialTargetStatusCompleted, DialTargetStatusFailed, DialTargetStatusNoAnswer,
			DialTargetStatusVoicemail, DialTargetStatusTransferred, DialTargetStatusCallback,
			DialTargetStatusDNC, DialTargetStatusTimedOut, DialTargetStatusExhausted,
			DialTargetStatusPending:
			// calling -> pending is the broadcast-stop revert path
			return true
		}
		return false
	default:
		return false
	}
}

// DialTarget is one phone number queued for outbound dialing within a
// broadcast. A retry never mutates a finished row; the scheduler inserts a
// fresh pending row carrying the attempt count forward, preserving history.
type DialTarget struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	UUID        uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:uk_dial_targets_uuid" json:"uuid"`
	BroadcastID uint             `gorm:"not null;index:idx_dial_targets_broadcast_id" json:"broadcast_id"`
	PhoneNumber string           `gorm:"not null;size:20;index:idx_dial_targets_phone" json:"phone_number"`
	DisplayName *string          `gorm:"size:255" json:"display_name,omitempty"`
	Priority    int              `gorm:"not null;default:0;index:idx_dial_targets_priority" json:"priority"`
	Attempts    int              `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int              `gorm:"not null;default:3" json:"max_attempts"`
	Status      DialTargetStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_dial_targets_status" json:"status"`
	ScheduledAt time.Time        `gorm:"not null;index:idx_dial_targets_scheduled_at" json:"scheduled_at"`
	LastError   *string          `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt   time.Time        `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt   *time.Time       `json:"updated_at,omitempty"`

	// Relations
	Broadcast *Broadcast `gorm:"foreignKey:BroadcastID;references:ID" json:"broadcast,omitempty"`
}

// TableName returns the table name for the model
func (DialTarget) TableName() string {
	return "dial_targets"
}

// BeforeCreate is called before creating a new record
func (t *DialTarget) BeforeCreate() error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	if t.Status == "" {
		t.Status = DialTargetStatusPending
	}
	if t.ScheduledAt.IsZero() {
		t.ScheduledAt = time.Now().UTC()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return nil
}

// AttemptsExhausted reports whether the attempt budget is used up
func (t *DialTarget) AttemptsExhausted() bool {
	return t.Attempts >= t.MaxAttempts
}

// DialTargetFilter represents filter criteria for dial targets
type DialTargetFilter struct {
	ID          *uint             `json:"id,omitempty"`
	UUID        *uuid.UUID        `json:"uuid,omitempty"`
	BroadcastID *uint             `json:"broadcast_id,omitempty"`
	PhoneNumber *string           `json:"phone_number,omitempty"`
	Status      *DialTargetStatus `json:"status,omitempty"`
	MinPriority *int              `json:"min_priority,omitempty"`
}
