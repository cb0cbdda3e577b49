package services

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/utils"
)

const telnyxDefaultBaseURL = "https://api.telnyx.com"

// TelnyxProvider places calls through the Telnyx Call Control API
type TelnyxProvider struct {
	account    *models.ProviderAccount
	creds      *models.TelnyxCredentials
	BaseURL    string
	HTTPClient *http.Client
}

// NewTelnyxProvider creates a new Telnyx adapter for the given account
func NewTelnyxProvider(account *models.ProviderAccount, creds *models.TelnyxCredentials) *TelnyxProvider {
	return &TelnyxProvider{
		account:    account,
		creds:      creds,
		BaseURL:    telnyxDefaultBaseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Type returns the provider type
func (p *TelnyxProvider) Type() models.ProviderType {
	return models.ProviderTypeTelnyx
}

type telnyxCreateCallReq struct {
	ConnectionID              string               `json:"connection_id"`
	To                        string               `json:"to"`
	From                      string               `json:"from"`
	AnsweringMachineDetection string               `json:"answering_machine_detection,omitempty"`
	WebhookURL                string               `json:"webhook_url,omitempty"`
	TimeoutSecs               int                  `json:"timeout_secs,omitempty"`
	ClientState               string               `json:"client_state,omitempty"`
	CustomHeaders             []telnyxCustomHeader `json:"custom_headers,omitempty"`
}

type telnyxCustomHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type telnyxAssistantStartReq struct {
	Assistant telnyxAssistantRef `json:"assistant"`
}

type telnyxAssistantRef struct {
	ID string `json:"id"`
}

type telnyxCallData struct {
	CallControlID string `json:"call_control_id"`
	CallLegID     string `json:"call_leg_id"`
	IsAlive       bool   `json:"is_alive"`
}

type telnyxEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// CreateCall places an outbound call through call control
func (p *TelnyxProvider) CreateCall(ctx context.Context, in CreateCallParams) (*CreateCallResult, error) {
	body := telnyxCreateCallReq{
		ConnectionID: p.creds.ConnectionID,
		To:           in.To,
		From:         in.From,
		WebhookURL:   in.CallbackURL,
		TimeoutSecs:  in.TimeoutSeconds,
		ClientState:  base64.StdEncoding.EncodeToString([]byte(in.AttemptUUID)),
	}
	if in.MachineDetection {
		body.AnsweringMachineDetection = "premium"
	}
	if in.TransferNumber != "" {
		body.CustomHeaders = []telnyxCustomHeader{{Name: "X-Transfer-Number", Value: in.TransferNumber}}
	}

	var env telnyxEnvelope
	if err := p.postJSON(ctx, "/v2/calls", body, &env); err != nil {
		return nil, err
	}
	var data telnyxCallData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.CallControlID == "" {
		return nil, NewProviderError(p.Type(), ProviderErrorTransient, "create call returned no call control ID", err)
	}

	if in.AgentOrScriptID != "" {
		if err := p.startAssistant(ctx, data.CallControlID, in.AgentOrScriptID); err != nil {
			// The leg is already up; tear it down instead of leaving an
			// unscripted call ringing.
			p.hangup(ctx, data.CallControlID)
			return nil, err
		}
	}

	return &CreateCallResult{ProviderCallID: data.CallControlID}, nil
}

// startAssistant attaches the AI assistant to a freshly dialed leg. Telnyx
// separates dialing from assistant control, so placement is a two-step call.
func (p *TelnyxProvider) startAssistant(ctx context.Context, callControlID, assistantID string) error {
	body := telnyxAssistantStartReq{Assistant: telnyxAssistantRef{ID: assistantID}}
	var env telnyxEnvelope
	return p.postJSON(ctx, "/v2/calls/"+callControlID+"/actions/ai_assistant_start", body, &env)
}

func (p *TelnyxProvider) hangup(ctx context.Context, callControlID string) {
	var env telnyxEnvelope
	_ = p.postJSON(ctx, "/v2/calls/"+callControlID+"/actions/hangup", struct{}{}, &env)
}

type telnyxCreateMessageReq struct {
	To         string `json:"to"`
	From       string `json:"from"`
	Text       string `json:"text"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// SendSms sends a text message through the messaging API
func (p *TelnyxProvider) SendSms(ctx context.Context, in SendSmsParams) (*SendSmsResult, error) {
	if !p.account.SupportsSMS {
		return nil, NewProviderError(p.Type(), ProviderErrorUnsupported, "account does not support SMS", nil)
	}

	body := telnyxCreateMessageReq{
		To:         in.To,
		From:       in.From,
		Text:       in.Body,
		WebhookURL: in.CallbackURL,
	}

	var env telnyxEnvelope
	if err := p.postJSON(ctx, "/v2/messages", body, &env); err != nil {
		return nil, err
	}
	var data struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.ID == "" {
		return nil, NewProviderError(p.Type(), ProviderErrorTransient, "send SMS returned no message ID", err)
	}

	return &SendSmsResult{ProviderMessageID: data.ID}, nil
}

// CreateVoicemailDrop places a call with machine detection set to greeting
// end, so the audio starts after the mailbox greeting finishes
func (p *TelnyxProvider) CreateVoicemailDrop(ctx context.Context, in VoicemailDropParams) (*VoicemailDropResult, error) {
	if !p.account.SupportsRVM {
		return nil, NewProviderError(p.Type(), ProviderErrorUnsupported, "account does not support voicemail drops", nil)
	}

	body := telnyxCreateCallReq{
		ConnectionID:              p.creds.ConnectionID,
		To:                        in.To,
		From:                      in.From,
		AnsweringMachineDetection: "detect_beep",
		WebhookURL:                in.CallbackURL,
	}

	var env telnyxEnvelope
	if err := p.postJSON(ctx, "/v2/calls", body, &env); err != nil {
		return nil, err
	}
	var data telnyxCallData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.CallControlID == "" {
		return nil, NewProviderError(p.Type(), ProviderErrorTransient, "voicemail drop returned no call control ID", err)
	}

	return &VoicemailDropResult{ProviderCallID: data.CallControlID}, nil
}

// TestConnection fetches the account's balance as a cheap credential check
func (p *TelnyxProvider) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/v2/balance", nil)
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

// VerifySignature validates the Ed25519 webhook signature
func (p *TelnyxProvider) VerifySignature(payload []byte, signature string) error {
	if p.creds.WebhookPublicKey == "" {
		return NewProviderError(p.Type(), ProviderErrorConfiguration, "no webhook public key configured", nil)
	}
	pubKey, err := base64.StdEncoding.DecodeString(p.creds.WebhookPublicKey)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return NewProviderError(p.Type(), ProviderErrorConfiguration, "malformed webhook public key", err)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return NewProviderError(p.Type(), ProviderErrorPermanent, "malformed webhook signature", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), payload, sig) {
		return NewProviderError(p.Type(), ProviderErrorPermanent, "invalid webhook signature", nil)
	}
	return nil
}

type telnyxWebhookPayload struct {
	Data struct {
		EventType  string `json:"event_type"`
		OccurredAt string `json:"occurred_at"`
		Payload    struct {
			CallControlID string `json:"call_control_id"`
			Digit         string `json:"digit"`
			Result        string `json:"result"`
			HangupCause   string `json:"hangup_cause"`
			StartTime     string `json:"start_time"`
			EndTime       string `json:"end_time"`
		} `json:"payload"`
	} `json:"data"`
}

// ParseEvent translates a Telnyx call-control webhook into a CallEvent
func (p *TelnyxProvider) ParseEvent(payload []byte) (*CallEvent, error) {
	var body telnyxWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, NewProviderError(p.Type(), ProviderErrorPermanent, "unparseable webhook payload", err)
	}
	if body.Data.Payload.CallControlID == "" {
		return nil, NewProviderError(p.Type(), ProviderErrorPermanent, "webhook payload missing call_control_id", nil)
	}

	event := &CallEvent{
		Provider:       p.Type(),
		ProviderCallID: body.Data.Payload.CallControlID,
		OccurredAt:     utils.UTCNow(),
	}
	if ts, err := time.Parse(time.RFC3339, body.Data.OccurredAt); err == nil {
		event.OccurredAt = ts.UTC()
	}

	switch body.Data.EventType {
	case "call.initiated":
		event.Type = CallEventInitiated
	case "call.ringing":
		event.Type = CallEventRinging
	case "call.answered":
		event.Type = CallEventAnswered
	case "call.machine.detection.ended", "call.machine.premium.detection.ended":
		event.Type = CallEventAnswered
		switch body.Data.Payload.Result {
		case "human", "human_residence", "human_business":
			event.AnsweredBy = AnsweredByHuman
		case "machine", "fax", "silence":
			event.AnsweredBy = AnsweredByMachine
		default:
			event.AnsweredBy = AnsweredByUnknown
		}
	case "call.dtmf.received":
		event.Type = CallEventDTMF
		event.Digit = body.Data.Payload.Digit
	case "call.hangup":
		switch body.Data.Payload.HangupCause {
		case "user_busy":
			event.Type = CallEventBusy
		case "no_answer", "originator_cancel", "timeout":
			event.Type = CallEventNoAnswer
		case "call_rejected", "unallocated_number", "invalid_number_format":
			event.Type = CallEventFailed
			event.ErrorMessage = body.Data.Payload.HangupCause
		default:
			event.Type = CallEventCompleted
		}
		if start, err := time.Parse(time.RFC3339, body.Data.Payload.StartTime); err == nil {
			if end, err := time.Parse(time.RFC3339, body.Data.Payload.EndTime); err == nil && end.After(start) {
				seconds := int(end.Sub(start).Seconds())
				event.DurationSeconds = &seconds
			}
		}
	default:
		return nil, NewProviderError(p.Type(), ProviderErrorPermanent,
			fmt.Sprintf("unknown event type %q", body.Data.EventType), nil)
	}

	return event, nil
}

func (p *TelnyxProvider) postJSON(ctx context.Context, path string, payload any, out any) error {
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

func (p *TelnyxProvider) classifyStatus(message string, status int, err error) error {
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
