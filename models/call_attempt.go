package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CallAttemptStatus represents the lifecycle status of a single outbound call
type CallAttemptStatus string

const (
	CallAttemptStatusQueued     CallAttemptStatus = "queued"
	CallAttemptStatusRinging    CallAttemptStatus = "ringing"
	CallAttemptStatusInProgress CallAttemptStatus = "in_progress"
	CallAttemptStatusCompleted  CallAttemptStatus = "completed"
	CallAttemptStatusFailed     CallAttemptStatus = "failed"
	CallAttemptStatusNoAnswer   CallAttemptStatus = "no_answer"
	CallAttemptStatusVoicemail  CallAttemptStatus = "voicemail"
)

func (s CallAttemptStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CallAttemptStatus) Valid() bool {
	switch s {
	case CallAttemptStatusQueued, CallAttemptStatusRinging, CallAttemptStatusInProgress,
		CallAttemptStatusCompleted, CallAttemptStatusFailed, CallAttemptStatusNoAnswer,
		CallAttemptStatusVoicemail:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the attempt has finished
func (s CallAttemptStatus) IsTerminal() bool {
	switch s {
	case CallAttemptStatusCompleted, CallAttemptStatusFailed,
		CallAttemptStatusNoAnswer, CallAttemptStatusVoicemail:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CallAttemptStatus
func (s *CallAttemptStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = CallAttemptStatus(v)
	case []byte:
		*s = CallAttemptStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CallAttemptStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for CallAttemptStatus
func (s CallAttemptStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CallAttemptStatus: %s", s)
	}
	return string(s), nil
}

// CanTransitionTo checks if the attempt can transition to the given status
func (s CallAttemptStatus) CanTransitionTo(newStatus CallAttemptStatus) bool {
	switch s {
	case CallAttemptStatusQueued:
		return newStatus == CallAttemptStatusRinging || newStatus == CallAttemptStatusInProgress ||
			newStatus.IsTerminal()
	case CallAttemptStatusRinging:
		return newStatus == CallAttemptStatusInProgress || newStatus.IsTerminal()
	case CallAttemptStatusInProgress:
		return newStatus.IsTerminal()
	default:
		return false
	}
}

// CallOutcome classifies how a finished attempt ended, beyond the raw
// terminal status (e.g. a completed call whose DTMF requested a transfer)
type CallOutcome string

const (
	CallOutcomeCompleted   CallOutcome = "completed"
	CallOutcomeFailed      CallOutcome = "failed"
	CallOutcomeNoAnswer    CallOutcome = "no_answer"
	CallOutcomeBusy        CallOutcome = "busy"
	CallOutcomeVoicemail   CallOutcome = "voicemail"
	CallOutcomeTransferred CallOutcome = "transferred"
	CallOutcomeCallback    CallOutcome = "callback"
	CallOutcomeDNC         CallOutcome = "dnc"
	CallOutcomeTimedOut    CallOutcome = "timed_out"
)

// ReclassifiedByDurationHeuristic marks an outcome flipped by the short-call
// voicemail heuristic rather than by provider machine detection
const ReclassifiedByDurationHeuristic = "duration_heuristic"

// IsSuccess reports whether the outcome counts as a successful contact
func (o CallOutcome) IsSuccess() bool {
	return o == CallOutcomeCompleted || o == CallOutcomeTransferred
}

// Retryable reports whether the outcome may be handed to the retry scheduler
func (o CallOutcome) Retryable() bool {
	switch o {
	case CallOutcomeNoAnswer, CallOutcomeBusy, CallOutcomeFailed, CallOutcomeTimedOut:
		return true
	default:
		return false
	}
}

// CallAttempt is one outbound call placed for a dial target. Rows are
// immutable once terminal except for the outcome/duration fields the
// provider webhook fills in.
type CallAttempt struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	UUID              uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:uk_call_attempts_uuid" json:"uuid"`
	DialTargetID      uint              `gorm:"not null;index:idx_call_attempts_dial_target_id" json:"dial_target_id"`
	BroadcastID       uint              `gorm:"not null;index:idx_call_attempts_broadcast_id" json:"broadcast_id"`
	ProviderAccountID uint              `gorm:"not null" json:"provider_account_id"`
	ProviderType      ProviderType      `gorm:"type:varchar(20);not null" json:"provider_type"`
	ProviderCallID    *string           `gorm:"size:128;index:idx_call_attempts_provider_call_id" json:"provider_call_id,omitempty"`
	CallerNumber      string            `gorm:"not null;size:20" json:"caller_number"`
	CalleeNumber      string            `gorm:"not null;size:20" json:"callee_number"`
	Status            CallAttemptStatus `gorm:"type:varchar(20);not null;default:'queued';index:idx_call_attempts_status" json:"status"`
	Outcome           *CallOutcome      `gorm:"type:varchar(20)" json:"outcome,omitempty"`
	DTMFPressed       pq.StringArray    `gorm:"type:text[]" json:"dtmf_pressed,omitempty"`
	DurationSeconds   *int              `json:"duration_seconds,omitempty"`
	ReclassifiedBy    *string           `gorm:"size:32" json:"reclassified_by,omitempty"`
	ReservationID     *string           `gorm:"size:64" json:"reservation_id,omitempty"`
	LastError         *string           `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt         time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
	AnsweredAt        *time.Time        `json:"answered_at,omitempty"`
	EndedAt           *time.Time        `json:"ended_at,omitempty"`

	// Relations
	DialTarget *DialTarget `gorm:"foreignKey:DialTargetID;references:ID" json:"dial_target,omitempty"`
}

// TableName returns the table name for the model
func (CallAttempt) TableName() string {
	return "call_attempts"
}

// BeforeCreate is called before creating a new record
func (a *CallAttempt) BeforeCreate() error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	if a.Status == "" {
		a.Status = CallAttemptStatusQueued
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

// CallAttemptFilter represents filter criteria for call attempts
type CallAttemptFilter struct {
	ID             *uint              `json:"id,omitempty"`
	DialTargetID   *uint              `json:"dial_target_id,omitempty"`
	BroadcastID    *uint              `json:"broadcast_id,omitempty"`
	ProviderCallID *string            `json:"provider_call_id,omitempty"`
	Status         *CallAttemptStatus `json:"status,omitempty"`
}
