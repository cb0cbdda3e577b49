package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BroadcastStatus represents the status of a voice broadcast
type BroadcastStatus string

const (
	BroadcastStatusDraft     BroadcastStatus = "draft"
	BroadcastStatusRunning   BroadcastStatus = "running"
	BroadcastStatusPaused    BroadcastStatus = "paused"
	BroadcastStatusStopped   BroadcastStatus = "stopped"
	BroadcastStatusCompleted BroadcastStatus = "completed"
)

func (s BroadcastStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s BroadcastStatus) Valid() bool {
	switch s {
	case BroadcastStatusDraft, BroadcastStatusRunning, BroadcastStatusPaused,
		BroadcastStatusStopped, BroadcastStatusCompleted:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for BroadcastStatus
func (s *BroadcastStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = BroadcastStatus(v)
	case []byte:
		*s = BroadcastStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into BroadcastStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for BroadcastStatus
func (s BroadcastStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid BroadcastStatus: %s", s)
	}
	return string(s), nil
}

// CanTransitionTo checks if the broadcast can transition to the given status
func (s BroadcastStatus) CanTransitionTo(newStatus BroadcastStatus) bool {
	switch s {
	case BroadcastStatusDraft:
		return newStatus == BroadcastStatusRunning || newStatus == BroadcastStatusStopped
	case BroadcastStatusRunning:
		return newStatus == BroadcastStatusPaused || newStatus == BroadcastStatusStopped ||
			newStatus == BroadcastStatusCompleted
	case BroadcastStatusPaused:
		return newStatus == BroadcastStatusRunning || newStatus == BroadcastStatusStopped
	default:
		return false
	}
}

// DTMFAction is what a digit press during an in-progress call maps to
type DTMFAction string

const (
	DTMFActionTransfer DTMFAction = "transfer"
	DTMFActionCallback DTMFAction = "callback"
	DTMFActionDNC      DTMFAction = "dnc"
	DTMFActionReplay   DTMFAction = "replay"
)

// Valid checks if the DTMF action is known
func (a DTMFAction) Valid() bool {
	switch a {
	case DTMFActionTransfer, DTMFActionCallback, DTMFActionDNC, DTMFActionReplay:
		return true
	default:
		return false
	}
}

// BroadcastSpec is the pacing and behavior configuration of a broadcast,
// stored as a jsonb column and read as an immutable snapshot by each
// dispatch tick. Only an operator mutates it.
type BroadcastSpec struct {
	CallsPerMinute      int    `json:"calls_per_minute"`
	MaxConcurrentCalls  int    `json:"max_concurrent_calls"`
	MaxCallsPerProvider int    `json:"max_calls_per_provider"`
	CallingHoursStart   int    `json:"calling_hours_start"` // local hour, inclusive
	CallingHoursEnd     int    `json:"calling_hours_end"`   // local hour, exclusive
	Timezone            string `json:"timezone"`
	BypassCallingHours  bool   `json:"bypass_calling_hours,omitempty"`

	// DTMFActionMap maps a pressed digit ("0"-"9", "*", "#") to a DTMFAction
	DTMFActionMap map[string]DTMFAction `json:"dtmf_action_map,omitempty"`

	// TransferNumber receives calls when a DTMF press maps to transfer
	TransferNumber string `json:"transfer_number,omitempty"`

	// CallbackDelayMinutes overrides the default wait before a requested
	// callback is dialed
	CallbackDelayMinutes int `json:"callback_delay_minutes,omitempty"`

	// AgentOrScriptID selects the provider-side agent/script/application
	AgentOrScriptID string `json:"agent_or_script_id,omitempty"`

	// DefaultMaxAttempts applies to targets injected without their own limit
	DefaultMaxAttempts int `json:"default_max_attempts,omitempty"`

	// Adaptive pacing scales calls_per_minute with observed connect and
	// failure rates, bounded by the ceiling below
	EnableAdaptivePacing     bool `json:"enable_adaptive_pacing,omitempty"`
	AdaptiveCeilingPerMinute int  `json:"adaptive_ceiling_per_minute,omitempty"`
}

// Value implements the driver.Valuer interface for BroadcastSpec
func (s BroadcastSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for BroadcastSpec
func (s *BroadcastSpec) Scan(value any) error {
	if value == nil {
		*s = BroadcastSpec{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into BroadcastSpec", value)
	}
	return json.Unmarshal(bytes, s)
}

// ActionForDigit resolves a pressed digit through the action map
func (s BroadcastSpec) ActionForDigit(digit string) (DTMFAction, bool) {
	if s.DTMFActionMap == nil {
		return "", false
	}
	a, ok := s.DTMFActionMap[digit]
	if !ok || !a.Valid() {
		return "", false
	}
	return a, true
}

// WithinCallingHours reports whether now falls inside the configured local
// calling window. A zero window (0,0) means no restriction.
func (s BroadcastSpec) WithinCallingHours(now time.Time, loc *time.Location) bool {
	if s.BypassCallingHours {
		return true
	}
	if s.CallingHoursStart == 0 && s.CallingHoursEnd == 0 {
		return true
	}
	h := now.In(loc).Hour()
	if s.CallingHoursStart <= s.CallingHoursEnd {
		return h >= s.CallingHoursStart && h < s.CallingHoursEnd
	}
	// window wraps midnight
	return h >= s.CallingHoursStart || h < s.CallingHoursEnd
}

// NextCallingTime returns the earliest time at or after t that falls inside
// the calling window
func (s BroadcastSpec) NextCallingTime(t time.Time, loc *time.Location) time.Time {
	if s.WithinCallingHours(t, loc) {
		return t
	}
	local := t.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.CallingHoursStart, 0, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next.UTC()
}

// Broadcast is one outbound dialing campaign: a queue of dial targets plus
// the pacing configuration that governs how fast they are dialed.
type Broadcast struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UUID      uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_broadcasts_uuid" json:"uuid"`
	Name      string          `gorm:"not null;size:255" json:"name"`
	Status    BroadcastStatus `gorm:"type:varchar(20);not null;default:'draft';index:idx_broadcasts_status" json:"status"`
	Spec      BroadcastSpec   `gorm:"type:jsonb;not null" json:"spec"`
	CreatedAt time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	StoppedAt *time.Time      `json:"stopped_at,omitempty"`
}

// TableName returns the table name for the model
func (Broadcast) TableName() string {
	return "broadcasts"
}

// BeforeCreate is called before creating a new record
func (b *Broadcast) BeforeCreate() error {
	if b.UUID == uuid.Nil {
		b.UUID = uuid.New()
	}
	if b.Status == "" {
		b.Status = BroadcastStatusDraft
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	return nil
}

// BroadcastFilter represents filter criteria for broadcasts
type BroadcastFilter struct {
	ID     *uint            `json:"id,omitempty"`
	UUID   *uuid.UUID       `json:"uuid,omitempty"`
	Status *BroadcastStatus `json:"status,omitempty"`
	Name   *string          `json:"name,omitempty"`
}
