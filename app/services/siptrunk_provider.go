package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/utils"
)

// SipTrunkProvider drives a script-fronted SIP trunk. The trunk exposes a
// plain GET API with pipe-delimited responses ("OK|<callid>" on success,
// "ERR|<message>" on failure), common on legacy wholesale carriers.
type SipTrunkProvider struct {
	account    *models.ProviderAccount
	creds      *models.SipTrunkCredentials
	HTTPClient *http.Client
}

// NewSipTrunkProvider creates a new SIP trunk adapter for the given account
func NewSipTrunkProvider(account *models.ProviderAccount, creds *models.SipTrunkCredentials) *SipTrunkProvider {
	return &SipTrunkProvider{
		account:    account,
		creds:      creds,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// Type returns the provider type
func (p *SipTrunkProvider) Type() models.ProviderType {
	return models.ProviderTypeSipTrunk
}

// CreateCall places an outbound call through the trunk's dial script
func (p *SipTrunkProvider) CreateCall(ctx context.Context, in CreateCallParams) (*CreateCallResult, error) {
	params := url.Values{}
	params.Set("action", "call")
	params.Set("to", in.To)
	params.Set("from", in.From)
	params.Set("ref", in.AttemptUUID)
	if in.TimeoutSeconds > 0 {
		params.Set("timeout", strconv.Itoa(in.TimeoutSeconds))
	}
	if in.CallbackURL != "" {
		params.Set("callback", in.CallbackURL)
	}
	if in.AgentOrScriptID != "" {
		params.Set("script", in.AgentOrScriptID)
	}
	if in.TransferNumber != "" {
		params.Set("transfer", in.TransferNumber)
	}

	fields, err := p.get(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(fields) < 2 || fields[1] == "" {
		return nil, NewProviderError(p.Type(), ProviderErrorTransient, "dial response missing call ID", nil)
	}

	return &CreateCallResult{ProviderCallID: fields[1]}, nil
}

// SendSms is not available on a bare trunk
func (p *SipTrunkProvider) SendSms(ctx context.Context, in SendSmsParams) (*SendSmsResult, error) {
	return nil, NewProviderError(p.Type(), ProviderErrorUnsupported, "SMS is not supported", nil)
}

// CreateVoicemailDrop is not available on a bare trunk
func (p *SipTrunkProvider) CreateVoicemailDrop(ctx context.Context, in VoicemailDropParams) (*VoicemailDropResult, error) {
	return nil, NewProviderError(p.Type(), ProviderErrorUnsupported, "voicemail drops are not supported", nil)
}

// TestConnection asks the trunk for its status line
func (p *SipTrunkProvider) TestConnection(ctx context.Context) error {
	params := url.Values{}
	params.Set("action", "status")

	_, err := p.get(ctx, params)
	return err
}

// VerifySignature validates an HMAC-SHA256 of the payload keyed with the
// trunk password
func (p *SipTrunkProvider) VerifySignature(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(p.creds.Password))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return NewProviderError(p.Type(), ProviderErrorPermanent, "invalid webhook signature", nil)
	}
	return nil
}

// ParseEvent translates the trunk's form-encoded callback into a CallEvent.
// The script posts callid, event, optional digit and duration fields.
func (p *SipTrunkProvider) ParseEvent(payload []byte) (*CallEvent, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, NewProviderError(p.Type(), ProviderErrorPermanent, "unparseable webhook payload", err)
	}

	callID := values.Get("callid")
	if callID == "" {
		return nil, NewProviderError(p.Type(), ProviderErrorPermanent, "webhook payload missing callid", nil)
	}

	event := &CallEvent{
		Provider:       p.Type(),
		ProviderCallID: callID,
		OccurredAt:     utils.UTCNow(),
	}

	switch values.Get("event") {
	case "ringing":
		event.Type = CallEventRinging
	case "answered":
		event.Type = CallEventAnswered
		if values.Get("amd") == "machine" {
			event.AnsweredBy = AnsweredByMachine
		} else if values.Get("amd") == "human" {
			event.AnsweredBy = AnsweredByHuman
		}
	case "dtmf":
		event.Type = CallEventDTMF
		event.Digit = values.Get("digit")
	case "hangup":
		switch values.Get("cause") {
		case "busy":
			event.Type = CallEventBusy
		case "noanswer", "cancel":
			event.Type = CallEventNoAnswer
		case "congestion", "chanunavail", "failure":
			event.Type = CallEventFailed
			event.ErrorMessage = values.Get("cause")
		default:
			event.Type = CallEventCompleted
		}
		if raw := values.Get("duration"); raw != "" {
			if seconds, err := strconv.Atoi(raw); err == nil {
				event.DurationSeconds = &seconds
			}
		}
	default:
		return nil, NewProviderError(p.Type(), ProviderErrorPermanent,
			fmt.Sprintf("unknown event %q", values.Get("event")), nil)
	}

	return event, nil
}

func (p *SipTrunkProvider) get(ctx context.Context, params url.Values) ([]string, error) {
	params.Set("user", p.creds.Username)
	params.Set("pass", p.creds.Password)

	endpoint := strings.TrimRight(p.creds.BaseURL, "/") + "/?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewProviderError(p.Type(), ProviderErrorTransient, "failed to build request", err)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, NewProviderError(p.Type(), ProviderErrorTransient, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := ProviderErrorTransient
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = ProviderErrorConfiguration
		}
		return nil, NewProviderError(p.Type(), kind,
			fmt.Sprintf("trunk returned HTTP %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return nil, NewProviderError(p.Type(), ProviderErrorTransient, "failed to read response", err)
	}

	fields := strings.Split(strings.TrimSpace(string(raw)), "|")
	switch fields[0] {
	case "OK":
		return fields, nil
	case "ERR":
		message := "trunk error"
		if len(fields) > 1 {
			message = fields[1]
		}
		kind := ProviderErrorPermanent
		if strings.Contains(strings.ToLower(message), "auth") {
			kind = ProviderErrorConfiguration
		} else if strings.Contains(strings.ToLower(message), "busy") ||
			strings.Contains(strings.ToLower(message), "congest") {
			kind = ProviderErrorTransient
		}
		return nil, NewProviderError(p.Type(), kind, message, nil)
	default:
		return nil, NewProviderError(p.Type(), ProviderErrorTransient, "unrecognized trunk response", nil)
	}
}
