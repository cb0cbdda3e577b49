package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	tclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/utils"
)

// TwilioProvider places calls through the Twilio Programmable Voice API
type TwilioProvider struct {
	account   *models.ProviderAccount
	creds     *models.TwilioCredentials
	client    *twilio.RestClient
	validator tclient.RequestValidator

	// WebhookURL is the public callback endpoint Twilio signs its webhook
	// requests against. The gateway sets it before verifying signatures.
	WebhookURL string
}

// NewTwilioProvider creates a new Twilio adapter for the given account
func NewTwilioProvider(account *models.ProviderAccount, creds *models.TwilioCredentials) *TwilioProvider {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: creds.AccountSID,
		Password: creds.AuthToken,
	})
	return &TwilioProvider{
		account:   account,
		creds:     creds,
		client:    client,
		validator: tclient.NewRequestValidator(creds.AuthToken),
	}
}

// Type returns the provider type
func (p *TwilioProvider) Type() models.ProviderType {
	return models.ProviderTypeTwilio
}

// CreateCall places an outbound call
func (p *TwilioProvider) CreateCall(ctx context.Context, in CreateCallParams) (*CreateCallResult, error) {
	params := &api.CreateCallParams{}
	params.SetTo(in.To)
	params.SetFrom(in.From)
	if in.CallbackURL != "" {
		params.SetUrl(in.CallbackURL)
		params.SetStatusCallback(in.CallbackURL)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	}
	if in.TimeoutSeconds > 0 {
		params.SetTimeout(in.TimeoutSeconds)
	}
	if in.MachineDetection {
		params.SetMachineDetection("Enable")
	}

	call, err := p.client.Api.CreateCall(params)
	if err != nil {
		return nil, p.classify("create call failed", err)
	}
	if call.Sid == nil {
		return nil, NewProviderError(p.Type(), ProviderErrorTransient, "create call returned no SID", nil)
	}

	result := &CreateCallResult{ProviderCallID: *call.Sid}
	if call.Status != nil {
		result.RawStatus = *call.Status
	}
	return result, nil
}

// SendSms sends a text message
func (p *TwilioProvider) SendSms(ctx context.Context, in SendSmsParams) (*SendSmsResult, error) {
	if !p.account.SupportsSMS {
		return nil, NewProviderError(p.Type(), ProviderErrorUnsupported, "account does not support SMS", nil)
	}

	params := &api.CreateMessageParams{}
	params.SetTo(in.To)
	params.SetFrom(in.From)
	params.SetBody(in.Body)
	if in.CallbackURL != "" {
		params.SetStatusCallback(in.CallbackURL)
	}

	msg, err := p.client.Api.CreateMessage(params)
	if err != nil {
		return nil, p.classify("send SMS failed", err)
	}
	if msg.Sid == nil {
		return nil, NewProviderError(p.Type(), ProviderErrorTransient, "send SMS returned no SID", nil)
	}

	return &SendSmsResult{ProviderMessageID: *msg.Sid}, nil
}

// CreateVoicemailDrop plays a prerecorded audio file once the machine picks
// up, using machine detection to skip the ring phase handling
func (p *TwilioProvider) CreateVoicemailDrop(ctx context.Context, in VoicemailDropParams) (*VoicemailDropResult, error) {
	if !p.account.SupportsRVM {
		return nil, NewProviderError(p.Type(), ProviderErrorUnsupported, "account does not support voicemail drops", nil)
	}

	params := &api.CreateCallParams{}
	params.SetTo(in.To)
	params.SetFrom(in.From)
	params.SetTwiml(fmt.Sprintf("<Response><Play>%s</Play></Response>", in.AudioURL))
	params.SetMachineDetection("DetectMessageEnd")
	if in.CallbackURL != "" {
		params.SetStatusCallback(in.CallbackURL)
	}

	call, err := p.client.Api.CreateCall(params)
	if err != nil {
		return nil, p.classify("voicemail drop failed", err)
	}
	if call.Sid == nil {
		return nil, NewProviderError(p.Type(), ProviderErrorTransient, "voicemail drop returned no SID", nil)
	}

	return &VoicemailDropResult{ProviderCallID: *call.Sid}, nil
}

// TestConnection fetches the account balance as a cheap credential check
func (p *TwilioProvider) TestConnection(ctx context.Context) error {
	_, err := p.client.Api.FetchBalance(nil)
	if err != nil {
		return p.classify("connection test failed", err)
	}
	return nil
}

// VerifySignature validates the X-Twilio-Signature header against the payload
func (p *TwilioProvider) VerifySignature(payload []byte, signature string) error {
	if !p.validator.ValidateBody(p.WebhookURL, payload, signature) {
		return NewProviderError(p.Type(), ProviderErrorPermanent, "invalid webhook signature", nil)
	}
	return nil
}

// ParseEvent translates a Twilio status callback into a CallEvent. Twilio
// posts form-encoded bodies; the gateway hands them over verbatim.
func (p *TwilioProvider) ParseEvent(payload []byte) (*CallEvent, error) {
	var values url.Values
	if trimmed := strings.TrimSpace(string(payload)); strings.HasPrefix(trimmed, "{") {
		// Some Twilio products post JSON instead of form data.
		var body map[string]string
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, NewProviderError(p.Type(), ProviderErrorPermanent, "unparseable webhook payload", err)
		}
		values = url.Values{}
		for k, v := range body {
			values.Set(k, v)
		}
	} else {
		var err error
		values, err = url.ParseQuery(trimmed)
		if err != nil {
			return nil, NewProviderError(p.Type(), ProviderErrorPermanent, "unparseable webhook payload", err)
		}
	}

	event := &CallEvent{
		Provider:       p.Type(),
		ProviderCallID: values.Get("CallSid"),
		OccurredAt:     utils.UTCNow(),
	}
	if event.ProviderCallID == "" {
		return nil, NewProviderError(p.Type(), ProviderErrorPermanent, "webhook payload missing CallSid", nil)
	}

	switch strings.ToLower(values.Get("AnsweredBy")) {
	case "human":
		event.AnsweredBy = AnsweredByHuman
	case "machine_start", "machine_end_beep", "machine_end_silence", "machine_end_other", "fax":
		event.AnsweredBy = AnsweredByMachine
	case "":
	default:
		event.AnsweredBy = AnsweredByUnknown
	}

	if digits := values.Get("Digits"); digits != "" {
		event.Type = CallEventDTMF
		event.Digit = digits
		return event, nil
	}

	switch values.Get("CallStatus") {
	case "initiated", "queued":
		event.Type = CallEventInitiated
	case "ringing":
		event.Type = CallEventRinging
	case "in-progress", "answered":
		event.Type = CallEventAnswered
	case "completed":
		event.Type = CallEventCompleted
	case "busy":
		event.Type = CallEventBusy
	case "no-answer":
		event.Type = CallEventNoAnswer
	case "failed", "canceled":
		event.Type = CallEventFailed
		event.ErrorMessage = values.Get("ErrorMessage")
	default:
		return nil, NewProviderError(p.Type(), ProviderErrorPermanent,
			fmt.Sprintf("unknown call status %q", values.Get("CallStatus")), nil)
	}

	if raw := values.Get("CallDuration"); raw != "" {
		var seconds int
		if _, err := fmt.Sscanf(raw, "%d", &seconds); err == nil {
			event.DurationSeconds = &seconds
		}
	}
	if raw := values.Get("Timestamp"); raw != "" {
		if ts, err := time.Parse(time.RFC1123Z, raw); err == nil {
			event.OccurredAt = ts.UTC()
		}
	}

	return event, nil
}

func (p *TwilioProvider) classify(message string, err error) error {
	var apiErr *tclient.TwilioRestError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == 401 || apiErr.Status == 403:
			return NewProviderError(p.Type(), ProviderErrorConfiguration, message, err)
		case apiErr.Status == 429 || apiErr.Status >= 500:
			return NewProviderError(p.Type(), ProviderErrorTransient, message, err)
		default:
			return NewProviderError(p.Type(), ProviderErrorPermanent, message, err)
		}
	}
	return NewProviderError(p.Type(), ProviderErrorTransient, message, err)
}
