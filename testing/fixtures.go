// Package testing provides test utilities and database setup for testing the dialing engine
package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// RandomPhone returns a unique E.164 US number
func RandomPhone() string {
	return fmt.Sprintf("+1415%07d", rand.Intn(10000000))
}

// CreateTestBroadcast creates a broadcast in the given status with a
// permissive spec that dials around the clock
func (tf *TestFixtures) CreateTestBroadcast(status models.BroadcastStatus) (*models.Broadcast, error) {
	broadcast := &models.Broadcast{
		Name:   fmt.Sprintf("test-broadcast-%d", rand.Intn(100000)),
		Status: status,
		Spec: models.BroadcastSpec{
			CallsPerMinute:     60,
			MaxConcurrentCalls: 10,
			CallingHoursStart:  0,
			CallingHoursEnd:    24,
			Timezone:           "UTC",
			DefaultMaxAttempts: 3,
		},
	}
	if err := broadcast.BeforeCreate(); err != nil {
		return nil, err
	}
	if status == models.BroadcastStatusRunning {
		broadcast.StartedAt = utils.ToPtr(time.Now().UTC())
	}

	if err := tf.DB.DB.Create(broadcast).Error; err != nil {
		return nil, fmt.Errorf("failed to create test broadcast: %w", err)
	}
	return broadcast, nil
}

// CreateTestTarget creates a dial target for the broadcast
func (tf *TestFixtures) CreateTestTarget(broadcast *models.Broadcast, status models.DialTargetStatus) (*models.DialTarget, error) {
	target := &models.DialTarget{
		BroadcastID: broadcast.ID,
		PhoneNumber: RandomPhone(),
		MaxAttempts: 3,
		Status:      status,
		ScheduledAt: time.Now().UTC().Add(-time.Minute),
	}
	if err := target.BeforeCreate(); err != nil {
		return nil, err
	}

	if err := tf.DB.DB.Create(target).Error; err != nil {
		return nil, fmt.Errorf("failed to create test target: %w", err)
	}
	return target, nil
}

// CreateTestProviderAccount creates an active provider account with dummy
// credentials for the given provider type
func (tf *TestFixtures) CreateTestProviderAccount(providerType models.ProviderType) (*models.ProviderAccount, error) {
	account := &models.ProviderAccount{
		ProviderType:  providerType,
		PhoneNumber:   RandomPhone(),
		SupportsVoice: true,
		IsActive:      utils.ToPtr(true),
	}

	switch providerType {
	case models.ProviderTypeTwilio:
		account.Credentials = models.ProviderCredentials{
			Twilio: &models.TwilioCredentials{
				AccountSID: "ACtest" + uuid.NewString()[:8],
				AuthToken:  "token-" + uuid.NewString()[:8],
			},
		}
	case models.ProviderTypeRetell:
		account.Credentials = models.ProviderCredentials{
			Retell: &models.RetellCredentials{
				APIKey:  "key-" + uuid.NewString()[:8],
				AgentID: "agent-" + uuid.NewString()[:8],
			},
		}
	case models.ProviderTypeTelnyx:
		account.Credentials = models.ProviderCredentials{
			Telnyx: &models.TelnyxCredentials{
				APIKey:       "key-" + uuid.NewString()[:8],
				ConnectionID: "conn-" + uuid.NewString()[:8],
			},
		}
	case models.ProviderTypeSipTrunk:
		account.Credentials = models.ProviderCredentials{
			SipTrunk: &models.SipTrunkCredentials{
				BaseURL:  "http://localhost:5080",
				Username: "test",
				Password: "test-" + uuid.NewString()[:8],
			},
		}
	}

	if err := account.BeforeCreate(); err != nil {
		return nil, err
	}

	if err := tf.DB.DB.Create(account).Error; err != nil {
		return nil, fmt.Errorf("failed to create test provider account: %w", err)
	}
	return account, nil
}

// CreateTestTriggerAccount creates a trigger account and returns it together
// with the plaintext secret for authenticating requests
func (tf *TestFixtures) CreateTestTriggerAccount() (*models.TriggerAccount, string, error) {
	secret := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash secret: %w", err)
	}

	account := &models.TriggerAccount{
		Name:            fmt.Sprintf("test-trigger-%d", rand.Intn(100000)),
		APIKeyID:        "key_" + uuid.NewString()[:12],
		SecretHash:      string(hash),
		RateLimitPerMin: 60,
		IsActive:        utils.ToPtr(true),
	}
	if err := account.BeforeCreate(); err != nil {
		return nil, "", err
	}

	if err := tf.DB.DB.Create(account).Error; err != nil {
		return nil, "", fmt.Errorf("failed to create test trigger account: %w", err)
	}
	return account, secret, nil
}

// CreateTestDNCEntry blocks the given number
func (tf *TestFixtures) CreateTestDNCEntry(phoneNumber string) (*models.DNCEntry, error) {
	entry := &models.DNCEntry{
		PhoneNumber: phoneNumber,
		Source:      models.DNCSourceOperator,
		CreatedAt:   time.Now().UTC(),
	}
	if err := tf.DB.DB.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to create test DNC entry: %w", err)
	}
	return entry, nil
}
