package dto

import (
	"time"
)

// BroadcastSpecDTO mirrors the pacing and behavior configuration of a
// broadcast as accepted on the wire
type BroadcastSpecDTO struct {
	CallsPerMinute           int               `json:"calls_per_minute" validate:"min=0"`
	MaxConcurrentCalls       int               `json:"max_concurrent_calls" validate:"min=0"`
	MaxCallsPerProvider      int               `json:"max_calls_per_provider,omitempty" validate:"omitempty,min=0"`
	CallingHoursStart        int               `json:"calling_hours_start" validate:"min=0,max=23"`
	CallingHoursEnd          int               `json:"calling_hours_end" validate:"min=0,max=24"`
	Timezone                 string            `json:"timezone,omitempty"`
	BypassCallingHours       bool              `json:"bypass_calling_hours,omitempty"`
	DTMFActionMap            map[string]string `json:"dtmf_action_map,omitempty"`
	TransferNumber           string            `json:"transfer_number,omitempty"`
	AgentOrScriptID          string            `json:"agent_or_script_id,omitempty"`
	DefaultMaxAttempts       int               `json:"default_max_attempts,omitempty" validate:"omitempty,min=1,max=10"`
	EnableAdaptivePacing     bool              `json:"enable_adaptive_pacing,omitempty"`
	AdaptiveCeilingPerMinute int               `json:"adaptive_ceiling_per_minute,omitempty" validate:"omitempty,min=0"`
}

// CreateBroadcastRequest represents the request to create a new broadcast
type CreateBroadcastRequest struct {
	Name string           `json:"name" validate:"required,max=255"`
	Spec BroadcastSpecDTO `json:"spec" validate:"required"`
}

// CreateBroadcastResponse represents the response to create a new broadcast
type CreateBroadcastResponse struct {
	Message   string `json:"message"`
	UUID      string `json:"uuid"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// UpdateBroadcastSpecRequest represents the request to replace the spec of a
// draft or paused broadcast
type UpdateBroadcastSpecRequest struct {
	UUID string           `json:"-"`
	Spec BroadcastSpecDTO `json:"spec" validate:"required"`
}

// UpdateBroadcastSpecResponse represents the response to a spec update
type UpdateBroadcastSpecResponse struct {
	Message string `json:"message"`
}

// BroadcastActionRequest represents a start, pause or stop request
type BroadcastActionRequest struct {
	UUID string `json:"-"`
}

// BroadcastActionResponse represents the response to a lifecycle action
type BroadcastActionResponse struct {
	Message  string `json:"message"`
	UUID     string `json:"uuid"`
	Status   string `json:"status"`
	Reverted int64  `json:"reverted,omitempty"`
}

// GetBroadcastRequest represents the request to fetch a broadcast
type GetBroadcastRequest struct {
	UUID string `json:"-"`
}

// GetBroadcastResponse represents a broadcast in responses
type GetBroadcastResponse struct {
	UUID      string           `json:"uuid"`
	Name      string           `json:"name"`
	Status    string           `json:"status"`
	Spec      BroadcastSpecDTO `json:"spec"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt *time.Time       `json:"updated_at,omitempty"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	StoppedAt *time.Time       `json:"stopped_at,omitempty"`
}

// ListBroadcastsRequest represents the request to list broadcasts
type ListBroadcastsRequest struct {
	Page     int     `json:"page" validate:"min=1"`
	PageSize int     `json:"page_size" validate:"min=1,max=100"`
	Status   *string `json:"status,omitempty"`
	Name     *string `json:"name,omitempty"`
}

// ListBroadcastsResponse represents the response to list broadcasts
type ListBroadcastsResponse struct {
	Items    []GetBroadcastResponse `json:"items"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

// TargetFailureDTO is one recent failure row in the stats response
type TargetFailureDTO struct {
	PhoneNumber string     `json:"phone_number"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   *string    `json:"last_error,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// BroadcastStatsResponse represents live progress counters for a broadcast
type BroadcastStatsResponse struct {
	UUID            string             `json:"uuid"`
	Status          string             `json:"status"`
	CountsByStatus  map[string]int64   `json:"counts_by_status"`
	InFlightCalls   int64              `json:"in_flight_calls"`
	PendingCallback int64              `json:"pending_callbacks"`
	RecentFailures  []TargetFailureDTO `json:"recent_failures,omitempty"`
}
