package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ScheduledEventKind classifies a future action created by the retry scheduler
type ScheduledEventKind string

const (
	ScheduledEventKindCallback ScheduledEventKind = "callback"
	ScheduledEventKindRetry    ScheduledEventKind = "retry"
	ScheduledEventKindSMS      ScheduledEventKind = "sms"
)

// Valid checks if the kind is known
func (k ScheduledEventKind) Valid() bool {
	switch k {
	case ScheduledEventKindCallback, ScheduledEventKindRetry, ScheduledEventKindSMS:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ScheduledEventKind
func (k *ScheduledEventKind) Scan(value any) error {
	if value == nil {
		*k = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*k = ScheduledEventKind(v)
	case []byte:
		*k = ScheduledEventKind(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ScheduledEventKind", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for ScheduledEventKind
func (k ScheduledEventKind) Value() (driver.Value, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid ScheduledEventKind: %s", k)
	}
	return string(k), nil
}

// ScheduledEventPayload carries the data the dispatch cycle needs to act on
// the event without re-deriving it from the finished dial target row
type ScheduledEventPayload struct {
	Outcome       CallOutcome `json:"outcome,omitempty"`
	Attempts      int         `json:"attempts"`
	Priority      int         `json:"priority"`
	SMSBody       string      `json:"sms_body,omitempty"`
	RequestedTime *time.Time  `json:"requested_time,omitempty"`
}

// Value implements the driver.Valuer interface for ScheduledEventPayload
func (p ScheduledEventPayload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface for ScheduledEventPayload
func (p *ScheduledEventPayload) Scan(value any) error {
	if value == nil {
		*p = ScheduledEventPayload{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ScheduledEventPayload", value)
	}
	return json.Unmarshal(bytes, p)
}

// ScheduledEvent is a future action produced by the retry scheduler and
// consumed (then deleted) by the first dispatch tick with run_at <= now.
type ScheduledEvent struct {
	ID           uint                  `gorm:"primaryKey" json:"id"`
	DialTargetID uint                  `gorm:"not null;index:idx_scheduled_events_dial_target_id" json:"dial_target_id"`
	BroadcastID  uint                  `gorm:"not null;index:idx_scheduled_events_broadcast_id" json:"broadcast_id"`
	Kind         ScheduledEventKind    `gorm:"type:varchar(20);not null" json:"kind"`
	RunAt        time.Time             `gorm:"not null;index:idx_scheduled_events_run_at" json:"run_at"`
	Payload      ScheduledEventPayload `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt    time.Time             `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (ScheduledEvent) TableName() string {
	return "scheduled_events"
}

// ScheduledEventFilter represents filter criteria for scheduled events
type ScheduledEventFilter struct {
	DialTargetID *uint               `json:"dial_target_id,omitempty"`
	BroadcastID  *uint               `json:"broadcast_id,omitempty"`
	Kind         *ScheduledEventKind `json:"kind,omitempty"`
}
