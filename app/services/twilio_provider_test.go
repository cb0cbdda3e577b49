package services

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarimv/Raijin/models"
)

func newTestTwilio() *TwilioProvider {
	account := &models.ProviderAccount{ID: 4, ProviderType: models.ProviderTypeTwilio}
	creds := &models.TwilioCredentials{AccountSID: "ACxxxxxxxx", AuthToken: "auth-token-test"}
	return NewTwilioProvider(account, creds)
}

// twilioSign reproduces the signature Twilio attaches to a body-signed
// webhook request: HMAC-SHA1 of the full callback URL, which carries the
// body's SHA-256 as a query parameter.
func twilioSign(authToken, callbackURL string) string {
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(callbackURL))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioVerifySignature(t *testing.T) {
	p := newTestTwilio()
	payload := []byte(`{"CallSid":"CA123","CallStatus":"completed"}`)

	sum := sha256.Sum256(payload)
	callbackURL := "https://dialer.example.com/webhooks/twilio/acct?bodySHA256=" + hex.EncodeToString(sum[:])
	p.WebhookURL = callbackURL

	signature := twilioSign("auth-token-test", callbackURL)
	assert.NoError(t, p.VerifySignature(payload, signature))

	t.Run("TamperedBody", func(t *testing.T) {
		err := p.VerifySignature([]byte(`{"CallSid":"CA999"}`), signature)
		require.Error(t, err)
		assert.True(t, IsPermanentError(err))
	})

	t.Run("WrongToken", func(t *testing.T) {
		err := p.VerifySignature(payload, twilioSign("some-other-token", callbackURL))
		assert.Error(t, err)
	})
}

func TestTwilioParseEventFormBody(t *testing.T) {
	p := newTestTwilio()

	form := func(pairs map[string]string) []byte {
		values := url.Values{}
		for k, v := range pairs {
			values.Set(k, v)
		}
		return []byte(values.Encode())
	}

	t.Run("StatusMapping", func(t *testing.T) {
		cases := []struct {
			status string
			want   CallEventType
		}{
			{"initiated", CallEventInitiated},
			{"queued", CallEventInitiated},
			{"ringing", CallEventRinging},
			{"in-progress", CallEventAnswered},
			{"completed", CallEventCompleted},
			{"busy", CallEventBusy},
			{"no-answer", CallEventNoAnswer},
			{"failed", CallEventFailed},
			{"canceled", CallEventFailed},
		}
		for _, tc := range cases {
			event, err := p.ParseEvent(form(map[string]string{"CallSid": "CA123", "CallStatus": tc.status}))
			require.NoError(t, err, tc.status)
			assert.Equal(t, tc.want, event.Type, tc.status)
			assert.Equal(t, "CA123", event.ProviderCallID)
		}
	})

	t.Run("DigitsShortCircuit", func(t *testing.T) {
		// Gather callbacks carry both Digits and a CallStatus; the key press
		// wins.
		event, err := p.ParseEvent(form(map[string]string{
			"CallSid": "CA123", "CallStatus": "in-progress", "Digits": "1",
		}))
		require.NoError(t, err)
		assert.Equal(t, CallEventDTMF, event.Type)
		assert.Equal(t, "1", event.Digit)
	})

	t.Run("MachineDetection", func(t *testing.T) {
		cases := []struct {
			answeredBy string
			want       string
		}{
			{"human", AnsweredByHuman},
			{"machine_start", AnsweredByMachine},
			{"machine_end_beep", AnsweredByMachine},
			{"fax", AnsweredByMachine},
			{"unknown", AnsweredByUnknown},
		}
		for _, tc := range cases {
			event, err := p.ParseEvent(form(map[string]string{
				"CallSid": "CA123", "CallStatus": "in-progress", "AnsweredBy": tc.answeredBy,
			}))
			require.NoError(t, err, tc.answeredBy)
			assert.Equal(t, tc.want, event.AnsweredBy, tc.answeredBy)
		}
	})

	t.Run("DurationAndTimestamp", func(t *testing.T) {
		event, err := p.ParseEvent(form(map[string]string{
			"CallSid":      "CA123",
			"CallStatus":   "completed",
			"CallDuration": "33",
			"Timestamp":    "Wed, 01 Apr 2026 12:00:00 +0000",
		}))
		require.NoError(t, err)
		require.NotNil(t, event.DurationSeconds)
		assert.Equal(t, 33, *event.DurationSeconds)
		assert.Equal(t, 2026, event.OccurredAt.Year())
		assert.Equal(t, 12, event.OccurredAt.Hour())
	})

	t.Run("FailedCarriesErrorMessage", func(t *testing.T) {
		event, err := p.ParseEvent(form(map[string]string{
			"CallSid": "CA123", "CallStatus": "failed", "ErrorMessage": "number unreachable",
		}))
		require.NoError(t, err)
		assert.Equal(t, CallEventFailed, event.Type)
		assert.Equal(t, "number unreachable", event.ErrorMessage)
	})

	t.Run("MissingCallSid", func(t *testing.T) {
		_, err := p.ParseEvent(form(map[string]string{"CallStatus": "completed"}))
		require.Error(t, err)
		assert.True(t, IsPermanentError(err))
	})

	t.Run("UnknownStatus", func(t *testing.T) {
		_, err := p.ParseEvent(form(map[string]string{"CallSid": "CA123", "CallStatus": "teleporting"}))
		require.Error(t, err)
		assert.True(t, IsPermanentError(err))
	})
}

func TestTwilioParseEventJSONFallback(t *testing.T) {
	p := newTestTwilio()

	event, err := p.ParseEvent([]byte(`{"CallSid":"CA456","CallStatus":"completed","CallDuration":"7"}`))
	require.NoError(t, err)
	assert.Equal(t, CallEventCompleted, event.Type)
	assert.Equal(t, "CA456", event.ProviderCallID)
	require.NotNil(t, event.DurationSeconds)
	assert.Equal(t, 7, *event.DurationSeconds)
}
