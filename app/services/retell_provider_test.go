package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarimv/Raijin/models"
)

func newTestRetell(creds *models.RetellCredentials) *RetellProvider {
	account := &models.ProviderAccount{ID: 1, ProviderType: models.ProviderTypeRetell}
	return NewRetellProvider(account, creds)
}

func TestRetellCreateCall(t *testing.T) {
	var got retellCreateCallReq
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/create-phone-call", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"call_id":"rc_001","call_status":"registered"}`)
	}))
	defer srv.Close()

	p := newTestRetell(&models.RetellCredentials{APIKey: "rk_test", AgentID: "agent_default"})
	p.BaseURL = srv.URL
	p.HTTPClient = srv.Client()

	result, err := p.CreateCall(context.Background(), CreateCallParams{
		To:             "+14155550100",
		From:           "+14155550101",
		AttemptUUID:    "att-uuid-1",
		TransferNumber: "+14155550199",
	})
	require.NoError(t, err)
	assert.Equal(t, "rc_001", result.ProviderCallID)
	assert.Equal(t, "registered", result.RawStatus)

	assert.Equal(t, "Bearer rk_test", gotAuth)
	assert.Equal(t, "+14155550100", got.ToNumber)
	assert.Equal(t, "+14155550101", got.FromNumber)
	assert.Equal(t, "agent_default", got.OverrideAgentID)
	assert.Equal(t, "att-uuid-1", got.Metadata["attempt_uuid"])
	assert.Equal(t, "+14155550199", got.DynamicVariables["transfer_number"])
}

func TestRetellCreateCallAgentOverride(t *testing.T) {
	var got retellCreateCallReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"call_id":"rc_002"}`)
	}))
	defer srv.Close()

	p := newTestRetell(&models.RetellCredentials{APIKey: "rk_test", AgentID: "agent_default"})
	p.BaseURL = srv.URL
	p.HTTPClient = srv.Client()

	_, err := p.CreateCall(context.Background(), CreateCallParams{
		To: "+14155550100", From: "+14155550101", AgentOrScriptID: "agent_special",
	})
	require.NoError(t, err)
	assert.Equal(t, "agent_special", got.OverrideAgentID)
}

func TestRetellCreateCallNoAgent(t *testing.T) {
	p := newTestRetell(&models.RetellCredentials{APIKey: "rk_test"})

	_, err := p.CreateCall(context.Background(), CreateCallParams{To: "+14155550100"})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestRetellStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   ProviderErrorKind
	}{
		{http.StatusUnauthorized, ProviderErrorConfiguration},
		{http.StatusForbidden, ProviderErrorConfiguration},
		{http.StatusTooManyRequests, ProviderErrorTransient},
		{http.StatusBadGateway, ProviderErrorTransient},
		{http.StatusUnprocessableEntity, ProviderErrorPermanent},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		p := newTestRetell(&models.RetellCredentials{APIKey: "rk_test", AgentID: "a"})
		p.BaseURL = srv.URL
		p.HTTPClient = srv.Client()

		_, err := p.CreateCall(context.Background(), CreateCallParams{To: "+14155550100"})
		require.Error(t, err, "HTTP %d", tc.status)
		assert.Equal(t, tc.kind, ErrorKind(err), "HTTP %d", tc.status)
		srv.Close()
	}
}

func TestRetellVerifySignature(t *testing.T) {
	p := newTestRetell(&models.RetellCredentials{APIKey: "rk_secret"})
	payload := []byte(`{"event":"call_ended"}`)

	mac := hmac.New(sha256.New, []byte("rk_secret"))
	mac.Write(payload)
	valid := hex.EncodeToString(mac.Sum(nil))

	assert.NoError(t, p.VerifySignature(payload, valid))
	assert.NoError(t, p.VerifySignature(payload, "sha256="+valid))

	err := p.VerifySignature(payload, "sha256=deadbeef")
	require.Error(t, err)
	assert.True(t, IsPermanentError(err))

	// a signature over a different payload must not verify
	assert.Error(t, p.VerifySignature([]byte(`{"event":"tampered"}`), valid))
}

func TestRetellParseEvent(t *testing.T) {
	p := newTestRetell(&models.RetellCredentials{APIKey: "rk_test"})

	t.Run("CallStarted", func(t *testing.T) {
		event, err := p.ParseEvent([]byte(`{"event":"call_started","call":{"call_id":"rc_1"}}`))
		require.NoError(t, err)
		assert.Equal(t, CallEventAnswered, event.Type)
		assert.Equal(t, AnsweredByHuman, event.AnsweredBy)
		assert.Equal(t, "rc_1", event.ProviderCallID)
		assert.Equal(t, models.ProviderTypeRetell, event.Provider)
	})

	t.Run("Ringing", func(t *testing.T) {
		event, err := p.ParseEvent([]byte(`{"event":"call_ringing","call":{"call_id":"rc_1"}}`))
		require.NoError(t, err)
		assert.Equal(t, CallEventRinging, event.Type)
	})

	t.Run("DTMF", func(t *testing.T) {
		event, err := p.ParseEvent([]byte(`{"event":"dtmf","call":{"call_id":"rc_1"},"digit":"9"}`))
		require.NoError(t, err)
		assert.Equal(t, CallEventDTMF, event.Type)
		assert.Equal(t, "9", event.Digit)
	})

	t.Run("EndedWithDuration", func(t *testing.T) {
		start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
		end := start.Add(42 * time.Second)
		payload := fmt.Sprintf(`{"event":"call_ended","call":{"call_id":"rc_1","start_timestamp":%d,"end_timestamp":%d}}`,
			start.UnixMilli(), end.UnixMilli())

		event, err := p.ParseEvent([]byte(payload))
		require.NoError(t, err)
		assert.Equal(t, CallEventCompleted, event.Type)
		require.NotNil(t, event.DurationSeconds)
		assert.Equal(t, 42, *event.DurationSeconds)
		assert.True(t, event.OccurredAt.Equal(end))
	})

	t.Run("EndedInVoicemail", func(t *testing.T) {
		event, err := p.ParseEvent([]byte(`{"event":"call_ended","call":{"call_id":"rc_1","call_analysis":{"in_voicemail":true}}}`))
		require.NoError(t, err)
		assert.Equal(t, CallEventCompleted, event.Type)
		assert.Equal(t, AnsweredByMachine, event.AnsweredBy)
	})

	t.Run("DialBusy", func(t *testing.T) {
		event, err := p.ParseEvent([]byte(`{"event":"call_ended","call":{"call_id":"rc_1","disconnection_reason":"dial_busy"}}`))
		require.NoError(t, err)
		assert.Equal(t, CallEventBusy, event.Type)
	})

	t.Run("DialNoAnswer", func(t *testing.T) {
		event, err := p.ParseEvent([]byte(`{"event":"call_ended","call":{"call_id":"rc_1","disconnection_reason":"dial_no_answer"}}`))
		require.NoError(t, err)
		assert.Equal(t, CallEventNoAnswer, event.Type)
	})

	t.Run("DialFailed", func(t *testing.T) {
		event, err := p.ParseEvent([]byte(`{"event":"call_ended","call":{"call_id":"rc_1","disconnection_reason":"dial_failed"}}`))
		require.NoError(t, err)
		assert.Equal(t, CallEventFailed, event.Type)
		assert.Equal(t, "dial_failed", event.ErrorMessage)
	})

	t.Run("UnknownEvent", func(t *testing.T) {
		_, err := p.ParseEvent([]byte(`{"event":"agent_updated","call":{"call_id":"rc_1"}}`))
		require.Error(t, err)
		assert.True(t, IsPermanentError(err))
	})

	t.Run("MissingCallID", func(t *testing.T) {
		_, err := p.ParseEvent([]byte(`{"event":"call_started","call":{}}`))
		require.Error(t, err)
		assert.True(t, IsPermanentError(err))
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := p.ParseEvent([]byte(`not json`))
		assert.Error(t, err)
	})
}

func TestRetellUnsupportedChannels(t *testing.T) {
	p := newTestRetell(&models.RetellCredentials{APIKey: "rk_test"})

	_, err := p.SendSms(context.Background(), SendSmsParams{To: "+14155550100", Body: "hi"})
	assert.Equal(t, ProviderErrorUnsupported, ErrorKind(err))

	_, err = p.CreateVoicemailDrop(context.Background(), VoicemailDropParams{To: "+14155550100"})
	assert.Equal(t, ProviderErrorUnsupported, ErrorKind(err))
}
