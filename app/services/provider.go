// Package services contains external service integrations and business services
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkarimv/Raijin/models"
)

// ProviderErrorKind classifies adapter failures so callers can decide whether
// to retry, fail the attempt, or flag the account
type ProviderErrorKind string

const (
	// ProviderErrorConfiguration means the account is unusable as configured
	// (bad credentials shape, missing caller ID). Retrying will not help.
	ProviderErrorConfiguration ProviderErrorKind = "configuration"
	// ProviderErrorTransient covers timeouts, 5xx responses and rate limits.
	// The same request may succeed on a later attempt.
	ProviderErrorTransient ProviderErrorKind = "transient"
	// ProviderErrorPermanent covers rejections tied to the request itself
	// (invalid number, blocked destination). Retrying the same number is
	// pointless.
	ProviderErrorPermanent ProviderErrorKind = "permanent"
	// ProviderErrorUnsupported means the backend cannot perform the
	// requested channel at all (e.g. SMS on a bare SIP trunk).
	ProviderErrorUnsupported ProviderErrorKind = "unsupported"
)

// ProviderError is the uniform error shape every adapter returns
type ProviderError struct {
	Provider models.ProviderType
	Kind     ProviderErrorKind
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Provider, e.Message, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Kind)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a provider error
func NewProviderError(provider models.ProviderType, kind ProviderErrorKind, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Message: message, Err: err}
}

// ErrorKind extracts the kind from an adapter error, defaulting to transient
// so unclassified failures stay retryable
func ErrorKind(err error) ProviderErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ProviderErrorTransient
}

// IsTransientError checks if the error is retryable
func IsTransientError(err error) bool {
	return ErrorKind(err) == ProviderErrorTransient
}

// IsPermanentError checks if the error is a permanent rejection
func IsPermanentError(err error) bool {
	return ErrorKind(err) == ProviderErrorPermanent
}

// IsConfigurationError checks if the error is an account misconfiguration
func IsConfigurationError(err error) bool {
	return ErrorKind(err) == ProviderErrorConfiguration
}

// CreateCallParams carries everything an adapter needs to place one call
type CreateCallParams struct {
	To               string
	From             string
	AttemptUUID      string
	AgentOrScriptID  string
	TransferNumber   string
	MachineDetection bool
	TimeoutSeconds   int
	CallbackURL      string
}

// CreateCallResult is the normalized response of a successful placement
type CreateCallResult struct {
	ProviderCallID string
	RawStatus      string
}

// SendSmsParams carries an outbound text message request
type SendSmsParams struct {
	To          string
	From        string
	Body        string
	CallbackURL string
}

// SendSmsResult is the normalized response of a successful send
type SendSmsResult struct {
	ProviderMessageID string
}

// VoicemailDropParams requests playing a prerecorded message straight into a
// mailbox without ringing the handset
type VoicemailDropParams struct {
	To          string
	From        string
	AudioURL    string
	CallbackURL string
}

// VoicemailDropResult is the normalized response of a voicemail drop
type VoicemailDropResult struct {
	ProviderCallID string
}

// CallEventType is the normalized lifecycle event emitted by providers
type CallEventType string

const (
	CallEventInitiated CallEventType = "initiated"
	CallEventRinging   CallEventType = "ringing"
	CallEventAnswered  CallEventType = "answered"
	CallEventCompleted CallEventType = "completed"
	CallEventFailed    CallEventType = "failed"
	CallEventNoAnswer  CallEventType = "no_answer"
	CallEventBusy      CallEventType = "busy"
	CallEventDTMF      CallEventType = "dtmf"
)

// AnsweredBy values reported by machine detection
const (
	AnsweredByHuman   = "human"
	AnsweredByMachine = "machine"
	AnsweredByUnknown = "unknown"
)

// CallEvent is a provider webhook translated into provider-neutral terms.
// Everything downstream of the adapters works with this shape only.
type CallEvent struct {
	Provider        models.ProviderType
	ProviderCallID  string
	Type            CallEventType
	AnsweredBy      string
	Digit           string
	DurationSeconds *int
	ErrorMessage    string
	OccurredAt      time.Time
}

// ProviderAdapter is the uniform surface over telephony backends. Adapters
// translate between this interface and each vendor's API; no provider types
// leak past this package.
type ProviderAdapter interface {
	Type() models.ProviderType
	CreateCall(ctx context.Context, params CreateCallParams) (*CreateCallResult, error)
	SendSms(ctx context.Context, params SendSmsParams) (*SendSmsResult, error)
	CreateVoicemailDrop(ctx context.Context, params VoicemailDropParams) (*VoicemailDropResult, error)
	// TestConnection verifies the credentials against a cheap read endpoint.
	TestConnection(ctx context.Context) error
	// VerifySignature authenticates an inbound webhook payload.
	VerifySignature(payload []byte, signature string) error
	// ParseEvent translates a raw webhook payload into a CallEvent.
	ParseEvent(payload []byte) (*CallEvent, error)
}

// AdapterFactory builds the right adapter for a provider account
type AdapterFactory func(account *models.ProviderAccount) (ProviderAdapter, error)

// NewAdapter resolves the account's credential union and constructs the
// matching adapter. A credential/type mismatch is a configuration error, not
// a crash.
func NewAdapter(account *models.ProviderAccount) (ProviderAdapter, error) {
	if err := account.Credentials.Resolve(account.ProviderType); err != nil {
		return nil, NewProviderError(account.ProviderType, ProviderErrorConfiguration, "unusable credentials", err)
	}

	switch account.ProviderType {
	case models.ProviderTypeTwilio:
		return NewTwilioProvider(account, account.Credentials.Twilio), nil
	case models.ProviderTypeRetell:
		return NewRetellProvider(account, account.Credentials.Retell), nil
	case models.ProviderTypeTelnyx:
		return NewTelnyxProvider(account, account.Credentials.Telnyx), nil
	case models.ProviderTypeSipTrunk:
		return NewSipTrunkProvider(account, account.Credentials.SipTrunk), nil
	default:
		return nil, NewProviderError(account.ProviderType, ProviderErrorConfiguration, "unknown provider type", nil)
	}
}
