package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/utils"
)

const retellDefaultBaseURL = "https://api.retellai.com"

// RetellProvider places calls through the Retell AI agent-control API. The
// conversation itself is driven by the configured agent; this adapter only
// starts calls and translates webhook events.
type RetellProvider struct {
	account    *models.ProviderAccount
	creds      *models.RetellCredentials
	BaseURL    string
	HTTPClient *http.Client
}

// NewRetellProvider creates a new Retell adapter for the given account
func NewRetellProvider(account *models.ProviderAccount, creds *models.RetellCredentials) *RetellProvider {
	return &RetellProvider{
		account:    account,
		creds:      creds,
		BaseURL:    retellDefaultBaseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Type returns the provider type
func (p *RetellProvider) Type() models.ProviderType {
	return models.ProviderTypeRetell
}

type retellCreateCallReq struct {
	FromNumber       string            `json:"from_number"`
	ToNumber         string            `json:"to_number"`
	OverrideAgentID  string            `json:"override_agent_id,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	DynamicVariables map[string]string `json:"retell_llm_dynamic_variables,omitempty"`
}

type retellCreateCallResp struct {
	CallID     string `json:"call_id"`
	CallStatus string `json:"call_status"`
}

// CreateCall starts an agent-driven phone call
func (p *RetellProvider) CreateCall(ctx context.Context, in CreateCallParams) (*CreateCallResult, error) {
	agentID := in.AgentOrScriptID
	if agentID == "" {
		agentID = p.creds.AgentID
	}
	if agentID == "" {
		return nil, NewProviderError(p.Type(), ProviderErrorConfiguration, "no agent configured", nil)
	}

	body := retellCreateCallReq{
		FromNumber:      in.From,
		ToNumber:        in.To,
		OverrideAgentID: agentID,
		Metadata:        map[string]string{"attempt_uuid": in.AttemptUUID},
	}
	if in.TransferNumber != "" {
		// The agent reads the warm-transfer destination from its dynamic
		// variables.
		body.DynamicVariables = map[string]string{"transfer_number": in.TransferNumber}
	}

	var out retellCreateCallResp
	if err := p.postJSON(ctx, "/v2/create-phone-call", body, &out); err != nil {
		return nil, err
	}
	if out.CallID == "" {
		return nil, NewProviderError(p.Type(), ProviderErrorTransient, "create call returned no call ID", nil)
	}

	return &CreateCallResult{ProviderCallID: out.CallID, RawStatus: out.CallStatus}, nil
}

// SendSms is not offered by the agent-control API
func (p *RetellProvider) SendSms(ctx context.Context, in SendSmsParams) (*SendSmsResult, error) {
	return nil, NewProviderError(p.Type(), ProviderErrorUnsupported, "SMS is not supported", nil)
}

// CreateVoicemailDrop is not offered by the agent-control API
func (p *RetellProvider) CreateVoicemailDrop(ctx context.Context, in VoicemailDropParams) (*VoicemailDropResult, error) {
	return nil, NewProviderError(p.Type(), ProviderErrorUnsupported, "voicemail drops are not supported", nil)
}

// TestConnection lists agents as a cheap credential check
func (p *RetellProvider) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/list-agents", nil)
	if err != nil {
		return NewProviderError(p.Type(), ProviderErrorTransient, "connection test failed", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.creds.APIKey)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return NewProviderError(p.Type(), ProviderErrorTransient, "connection test failed", err)
	}
	defer resp.Body.Close()

	return p.classifyStatus("connection test failed", resp.StatusCode, nil)
}

// VerifySignature validates the X-Retell-Signature header, an HMAC-SHA256 of
// the payload keyed with the API key
func (p *RetellProvider) VerifySignature(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(p.creds.APIKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256="))) {
		return NewProviderError(p.Type(), ProviderErrorPermanent, "invalid webhook signature", nil)
	}
	return nil
}

type retellWebhookPayload struct {
	Event string `json:"event"`
	Call  struct {
		CallID              string `json:"call_id"`
		CallStatus          string `json:"call_status"`
		DisconnectionReason string `json:"disconnection_reason"`
		StartTimestamp      int64  `json:"start_timestamp"`
		EndTimestamp        int64  `json:"end_timestamp"`
		CallAnalysis        struct {
			InVoicemail bool `json:"in_voicemail"`
		} `json:"call_analysis"`
	} `json:"call"`
	Digit string `json:"digit,omitempty"`
}

// ParseEvent translates a Retell webhook into a CallEvent
func (p *RetellProvider) ParseEvent(payload []byte) (*CallEvent, error) {
	var body retellWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, NewProviderError(p.Type(), ProviderErrorPermanent, "unparseable webhook payload", err)
	}
	if body.Call.CallID == "" {
		return nil, NewProviderError(p.Type(), ProviderErrorPermanent, "webhook payload missing call_id", nil)
	}

	event := &CallEvent{
		Provider:       p.Type(),
		ProviderCallID: body.Call.CallID,
		OccurredAt:     utils.UTCNow(),
	}

	switch body.Event {
	case "call_started":
		event.Type = CallEventAnswered
		event.AnsweredBy = AnsweredByHuman
	case "call_ringing":
		event.Type = CallEventRinging
	case "dtmf":
		event.Type = CallEventDTMF
		event.Digit = body.Digit
	case "call_ended", "call_analyzed":
		event.Type = CallEventCompleted
		if body.Call.CallAnalysis.InVoicemail {
			event.AnsweredBy = AnsweredByMachine
		}
		switch body.Call.DisconnectionReason {
		case "dial_busy":
			event.Type = CallEventBusy
		case "dial_no_answer":
			event.Type = CallEventNoAnswer
		case "dial_failed", "error":
			event.Type = CallEventFailed
			event.ErrorMessage = body.Call.DisconnectionReason
		}
		if body.Call.EndTimestamp > body.Call.StartTimestamp && body.Call.StartTimestamp > 0 {
			seconds := int((body.Call.EndTimestamp - body.Call.StartTimestamp) / 1000)
			event.DurationSeconds = &seconds
			event.OccurredAt = time.UnixMilli(body.Call.EndTimestamp).UTC()
		}
	default:
		return nil, NewProviderError(p.Type(), ProviderErrorPermanent,
			fmt.Sprintf("unknown event %q", body.Event), nil)
	}

	return event, nil
}

func (p *RetellProvider) postJSON(ctx context.Context, path string, payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return NewProviderError(p.Type(), ProviderErrorPermanent, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return NewProviderError(p.Type(), ProviderErrorTransient, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.creds.APIKey)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return NewProviderError(p.Type(), ProviderErrorTransient, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return p.classifyStatus(string(msg), resp.StatusCode, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewProviderError(p.Type(), ProviderErrorTransient, "failed to decode response", err)
	}
	return nil
}

func (p *RetellProvider) classifyStatus(message string, status int, err error) error {
	switch {
	case status >= 200 && status <= 299:
		return nil
	case status == 401 || status == 403:
		return NewProviderError(p.Type(), ProviderErrorConfiguration, message, err)
	case status == 429 || status >= 500:
		return NewProviderError(p.Type(), ProviderErrorTransient, message, err)
	default:
		return NewProviderError(p.Type(), ProviderErrorPermanent, message, err)
	}
}
