package dto

import (
	"time"
)

// AddTargetRequest represents an inbound request to enqueue one phone number
// into a running or draft broadcast. It arrives from external automation
// systems, so every field is revalidated server side.
type AddTargetRequest struct {
	BroadcastUUID string     `json:"broadcast_uuid" validate:"required,uuid4"`
	PhoneNumber   string     `json:"phone_number" validate:"required,max=20"`
	DisplayName   *string    `json:"display_name,omitempty" validate:"omitempty,max=255"`
	Priority      int        `json:"priority,omitempty"`
	MaxAttempts   int        `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=10"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
}

// AddTargetResponse represents the response to a target injection
type AddTargetResponse struct {
	Message     string `json:"message"`
	UUID        string `json:"uuid"`
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status"`
}

// ImportTargetsRequest represents a bulk XLSX import into a broadcast
type ImportTargetsRequest struct {
	BroadcastUUID string `json:"-"`
	FileName      string `json:"-"`
}

// ImportTargetsResponse summarizes a bulk import
type ImportTargetsResponse struct {
	Message    string   `json:"message"`
	Imported   int      `json:"imported"`
	Duplicates int      `json:"duplicates"`
	OnDNC      int      `json:"on_dnc"`
	Invalid    int      `json:"invalid"`
	Errors     []string `json:"errors,omitempty"`
}

// AddDNCRequest represents an operator request to add a number to the
// do-not-call registry
type AddDNCRequest struct {
	PhoneNumber string  `json:"phone_number" validate:"required,max=20"`
	Reason      *string `json:"reason,omitempty" validate:"omitempty,max=255"`
}

// AddDNCResponse represents the response to a DNC addition
type AddDNCResponse struct {
	Message     string `json:"message"`
	PhoneNumber string `json:"phone_number"`
}

// GetTargetRequest represents the request to fetch one dial target
type GetTargetRequest struct {
	UUID string `json:"-"`
}

// GetTargetResponse represents a dial target in responses
type GetTargetResponse struct {
	UUID        string     `json:"uuid"`
	PhoneNumber string     `json:"phone_number"`
	DisplayName *string    `json:"display_name,omitempty"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Status      string     `json:"status"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}
