package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkarimv/Raijin/models"
)

func TestNewAdapter(t *testing.T) {
	cases := []struct {
		providerType models.ProviderType
		credentials  models.ProviderCredentials
	}{
		{models.ProviderTypeTwilio, models.ProviderCredentials{
			Twilio: &models.TwilioCredentials{AccountSID: "AC1", AuthToken: "tok"},
		}},
		{models.ProviderTypeRetell, models.ProviderCredentials{
			Retell: &models.RetellCredentials{APIKey: "rk", AgentID: "a"},
		}},
		{models.ProviderTypeTelnyx, models.ProviderCredentials{
			Telnyx: &models.TelnyxCredentials{APIKey: "tk", ConnectionID: "c"},
		}},
		{models.ProviderTypeSipTrunk, models.ProviderCredentials{
			SipTrunk: &models.SipTrunkCredentials{BaseURL: "http://localhost:5080"},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.providerType.String(), func(t *testing.T) {
			adapter, err := NewAdapter(&models.ProviderAccount{
				ProviderType: tc.providerType,
				Credentials:  tc.credentials,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.providerType, adapter.Type())
		})
	}

	t.Run("CredentialTypeMismatch", func(t *testing.T) {
		_, err := NewAdapter(&models.ProviderAccount{
			ProviderType: models.ProviderTypeTwilio,
			Credentials: models.ProviderCredentials{
				Retell: &models.RetellCredentials{APIKey: "rk"},
			},
		})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
		assert.ErrorIs(t, err, models.ErrCredentialMismatch)
	})

	t.Run("UnknownProviderType", func(t *testing.T) {
		_, err := NewAdapter(&models.ProviderAccount{ProviderType: "carrier_pigeon"})
		require.Error(t, err)
		assert.True(t, IsConfigurationError(err))
	})
}

func TestProviderErrorClassification(t *testing.T) {
	base := NewProviderError(models.ProviderTypeTwilio, ProviderErrorTransient, "timed out", nil)

	assert.True(t, IsTransientError(base))
	assert.False(t, IsPermanentError(base))
	assert.False(t, IsConfigurationError(base))

	// wrapping must not hide the classification
	wrapped := fmt.Errorf("placing call: %w", base)
	assert.True(t, IsTransientError(wrapped))
	assert.Equal(t, ProviderErrorTransient, ErrorKind(wrapped))

	// unclassified errors stay retryable
	assert.Equal(t, ProviderErrorTransient, ErrorKind(errors.New("who knows")))

	cause := errors.New("dial tcp: i/o timeout")
	withCause := NewProviderError(models.ProviderTypeTelnyx, ProviderErrorTransient, "request failed", cause)
	assert.ErrorIs(t, withCause, cause)
	assert.Contains(t, withCause.Error(), "request failed")
	assert.Contains(t, withCause.Error(), "telnyx")
}
