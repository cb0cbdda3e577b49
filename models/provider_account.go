package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProviderType identifies which telephony backend an account belongs to
type ProviderType string

const (
	ProviderTypeTwilio   ProviderType = "twilio"
	ProviderTypeRetell   ProviderType = "retell"
	ProviderTypeTelnyx   ProviderType = "telnyx"
	ProviderTypeSipTrunk ProviderType = "siptrunk"
)

func (p ProviderType) String() string {
	return string(p)
}

// Valid checks if the provider type is known
func (p ProviderType) Valid() bool {
	switch p {
	case ProviderTypeTwilio, ProviderTypeRetell, ProviderTypeTelnyx, ProviderTypeSipTrunk:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ProviderType
func (p *ProviderType) Scan(value any) error {
	if value == nil {
		*p = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*p = ProviderType(v)
	case []byte:
		*p = ProviderType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ProviderType", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for ProviderType
func (p ProviderType) Value() (driver.Value, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid ProviderType: %s", p)
	}
	return string(p), nil
}

// TwilioCredentials holds Twilio REST API credentials
type TwilioCredentials struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
}

// RetellCredentials holds Retell agent-control API credentials
type RetellCredentials struct {
	APIKey  string `json:"api_key"`
	AgentID string `json:"agent_id,omitempty"`
}

// TelnyxCredentials holds Telnyx call-control API credentials. The public
// key is the base64 Ed25519 key Telnyx signs webhook payloads with.
type TelnyxCredentials struct {
	APIKey           string `json:"api_key"`
	ConnectionID     string `json:"connection_id"`
	WebhookPublicKey string `json:"webhook_public_key,omitempty"`
}

// SipTrunkCredentials holds credentials for the script-driven SIP trunk API
type SipTrunkCredentials struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ProviderCredentials is a tagged union of per-provider credential shapes.
// Exactly one variant is set, matching the account's ProviderType; it is
// resolved once when the account is loaded, never threaded around as an
// untyped map.
type ProviderCredentials struct {
	Twilio   *TwilioCredentials   `json:"twilio,omitempty"`
	Retell   *RetellCredentials   `json:"retell,omitempty"`
	Telnyx   *TelnyxCredentials   `json:"telnyx,omitempty"`
	SipTrunk *SipTrunkCredentials `json:"siptrunk,omitempty"`
}

// ErrCredentialMismatch is returned when the credentials variant does not
// match the account's provider type
var ErrCredentialMismatch = errors.New("credentials do not match provider type")

// Resolve validates that the variant matching the provider type is present
func (c ProviderCredentials) Resolve(pt ProviderType) error {
	switch pt {
	case ProviderTypeTwilio:
		if c.Twilio == nil || c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			return ErrCredentialMismatch
		}
	case ProviderTypeRetell:
		if c.Retell == nil || c.Retell.APIKey == "" {
			return ErrCredentialMismatch
		}
	case ProviderTypeTelnyx:
		if c.Telnyx == nil || c.Telnyx.APIKey == "" {
			return ErrCredentialMismatch
		}
	case ProviderTypeSipTrunk:
		if c.SipTrunk == nil || c.SipTrunk.BaseURL == "" {
			return ErrCredentialMismatch
		}
	default:
		return fmt.Errorf("unknown provider type: %s", pt)
	}
	return nil
}

// Value implements the driver.Valuer interface for ProviderCredentials
func (c ProviderCredentials) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface for ProviderCredentials
func (c *ProviderCredentials) Scan(value any) error {
	if value == nil {
		*c = ProviderCredentials{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ProviderCredentials", value)
	}
	return json.Unmarshal(bytes, c)
}

// ProviderAccount is a caller-identity resource: one outbound number on one
// telephony backend. Usage counters are mutated only through conditional
// UPDATEs in the repository because dispatch workers and the outcome
// processor touch the same row concurrently.
type ProviderAccount struct {
	ID               uint                `gorm:"primaryKey" json:"id"`
	UUID             uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:uk_provider_accounts_uuid" json:"uuid"`
	ProviderType     ProviderType        `gorm:"type:varchar(20);not null;index:idx_provider_accounts_type" json:"provider_type"`
	ExternalNumberID string              `gorm:"size:128" json:"external_number_id"`
	PhoneNumber      string              `gorm:"not null;size:20;index:idx_provider_accounts_phone" json:"phone_number"`
	SupportsVoice    bool                `gorm:"not null;default:true" json:"supports_voice"`
	SupportsSMS      bool                `gorm:"not null;default:false" json:"supports_sms"`
	SupportsRVM      bool                `gorm:"not null;default:false" json:"supports_rvm"`
	Credentials      ProviderCredentials `gorm:"type:jsonb;not null" json:"-"`
	CurrentInFlight  int                 `gorm:"not null;default:0" json:"current_in_flight"`
	DailyCallCount   int                 `gorm:"not null;default:0" json:"daily_call_count"`
	IsActive         *bool               `gorm:"not null;default:true" json:"is_active"`
	LastUsedAt       *time.Time          `json:"last_used_at,omitempty"`
	CreatedAt        time.Time           `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt        *time.Time          `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (ProviderAccount) TableName() string {
	return "provider_accounts"
}

// BeforeCreate is called before creating a new record
func (a *ProviderAccount) BeforeCreate() error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return nil
}

// ProviderAccountFilter represents filter criteria for provider accounts
type ProviderAccountFilter struct {
	ID           *uint         `json:"id,omitempty"`
	ProviderType *ProviderType `json:"provider_type,omitempty"`
	PhoneNumber  *string       `json:"phone_number,omitempty"`
	IsActive     *bool         `json:"is_active,omitempty"`
}
