package dto

import (
	"time"
)

// CreateProviderAccountRequest represents the request to register a caller
// number on a telephony backend. Credentials are accepted write-only and
// never echoed back.
type CreateProviderAccountRequest struct {
	ProviderType     string         `json:"provider_type" validate:"required,oneof=twilio retell telnyx siptrunk"`
	PhoneNumber      string         `json:"phone_number" validate:"required,max=20"`
	ExternalNumberID string         `json:"external_number_id,omitempty" validate:"omitempty,max=128"`
	SupportsVoice    *bool          `json:"supports_voice,omitempty"`
	SupportsSMS      *bool          `json:"supports_sms,omitempty"`
	SupportsRVM      *bool          `json:"supports_rvm,omitempty"`
	Credentials      map[string]any `json:"credentials" validate:"required"`
}

// CreateProviderAccountResponse represents the response to account creation
type CreateProviderAccountResponse struct {
	Message     string `json:"message"`
	UUID        string `json:"uuid"`
	PhoneNumber string `json:"phone_number"`
}

// ProviderAccountDTO represents a provider account in responses
type ProviderAccountDTO struct {
	UUID            string     `json:"uuid"`
	ProviderType    string     `json:"provider_type"`
	PhoneNumber     string     `json:"phone_number"`
	SupportsVoice   bool       `json:"supports_voice"`
	SupportsSMS     bool       `json:"supports_sms"`
	SupportsRVM     bool       `json:"supports_rvm"`
	CurrentInFlight int        `json:"current_in_flight"`
	DailyCallCount  int        `json:"daily_call_count"`
	IsActive        bool       `json:"is_active"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ListProviderAccountsResponse represents the response to list accounts
type ListProviderAccountsResponse struct {
	Items []ProviderAccountDTO `json:"items"`
}

// TestProviderConnectionResponse represents the result of a connectivity probe
type TestProviderConnectionResponse struct {
	Message string `json:"message"`
	UUID    string `json:"uuid"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}
