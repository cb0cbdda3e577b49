package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mkarimv/Raijin/models"
)

// MockProvider is an in-memory ProviderAdapter for tests and local runs.
// Each method delegates to the matching function field when one is set;
// the defaults succeed with generated identifiers so a full dial cycle can
// run without a carrier behind it.
type MockProvider struct {
	ProviderType          models.ProviderType
	CreateCallFn          func(ctx context.Context, params CreateCallParams) (*CreateCallResult, error)
	SendSmsFn             func(ctx context.Context, params SendSmsParams) (*SendSmsResult, error)
	CreateVoicemailDropFn func(ctx context.Context, params VoicemailDropParams) (*VoicemailDropResult, error)
	TestConnectionFn      func(ctx context.Context) error
	VerifySignatureFn     func(payload []byte, signature string) error
	ParseEventFn          func(payload []byte) (*CallEvent, error)

	mu    sync.Mutex
	calls []CreateCallParams
}

// NewMockProvider creates a mock adapter reporting the given provider type
func NewMockProvider(providerType models.ProviderType) *MockProvider {
	return &MockProvider{ProviderType: providerType}
}

// Type returns the provider type
func (p *MockProvider) Type() models.ProviderType {
	return p.ProviderType
}

// Calls returns a copy of every CreateCall request the mock has seen
func (p *MockProvider) Calls() []CreateCallParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CreateCallParams, len(p.calls))
	copy(out, p.calls)
	return out
}

// CreateCall records the request and places a pretend call
func (p *MockProvider) CreateCall(ctx context.Context, params CreateCallParams) (*CreateCallResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, params)
	p.mu.Unlock()

	if p.CreateCallFn != nil {
		return p.CreateCallFn(ctx, params)
	}
	return &CreateCallResult{
		ProviderCallID: fmt.Sprintf("mock-%s", uuid.New().String()),
		RawStatus:      "queued",
	}, nil
}

// SendSms pretends to send a text message
func (p *MockProvider) SendSms(ctx context.Context, params SendSmsParams) (*SendSmsResult, error) {
	if p.SendSmsFn != nil {
		return p.SendSmsFn(ctx, params)
	}
	return &SendSmsResult{ProviderMessageID: fmt.Sprintf("mock-sms-%s", uuid.New().String())}, nil
}

// CreateVoicemailDrop pretends to drop a voicemail
func (p *MockProvider) CreateVoicemailDrop(ctx context.Context, params VoicemailDropParams) (*VoicemailDropResult, error) {
	if p.CreateVoicemailDropFn != nil {
		return p.CreateVoicemailDropFn(ctx, params)
	}
	return &VoicemailDropResult{ProviderCallID: fmt.Sprintf("mock-vm-%s", uuid.New().String())}, nil
}

// TestConnection always succeeds unless overridden
func (p *MockProvider) TestConnection(ctx context.Context) error {
	if p.TestConnectionFn != nil {
		return p.TestConnectionFn(ctx)
	}
	return nil
}

// VerifySignature accepts every payload unless overridden
func (p *MockProvider) VerifySignature(payload []byte, signature string) error {
	if p.VerifySignatureFn != nil {
		return p.VerifySignatureFn(payload, signature)
	}
	return nil
}

// ParseEvent decodes the payload as a JSON CallEvent
func (p *MockProvider) ParseEvent(payload []byte) (*CallEvent, error) {
	if p.ParseEventFn != nil {
		return p.ParseEventFn(payload)
	}
	var event CallEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, NewProviderError(p.ProviderType, ProviderErrorPermanent, "unparseable webhook payload", err)
	}
	if event.Provider == "" {
		event.Provider = p.ProviderType
	}
	if event.ProviderCallID == "" {
		return nil, NewProviderError(p.ProviderType, ProviderErrorPermanent, "event is missing a call id", nil)
	}
	return &event, nil
}
