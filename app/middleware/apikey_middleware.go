package middleware

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkarimv/Raijin/app/dto"
	"github.com/mkarimv/Raijin/repository"
	"github.com/mkarimv/Raijin/utils"
)

const (
	apiKeyIDHeader     = "X-Api-Key-Id"
	apiKeySecretHeader = "X-Api-Secret"
)

// APIKeyMiddleware authenticates inbound gateway calls from external
// automation systems. The caller presents a key id and a secret; the secret
// is bcrypt-checked against the stored hash.
type APIKeyMiddleware struct {
	accountRepo repository.TriggerAccountRepository
	rateLimiter *RateLimiter
	logger      *log.Logger
}

// NewAPIKeyMiddleware creates a new API key middleware. rateLimiter may be
// nil, which disables rate limiting.
func NewAPIKeyMiddleware(accountRepo repository.TriggerAccountRepository, rateLimiter *RateLimiter, logger *log.Logger) *APIKeyMiddleware {
	if logger == nil {
		logger = log.Default()
	}
	return &APIKeyMiddleware{
		accountRepo: accountRepo,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// Authenticate validates the key pair, enforces the per-account rate limit
// and stores the trigger account in the request context
func (m *APIKeyMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		keyID := c.Get(apiKeyIDHeader)
		secret := c.Get(apiKeySecretHeader)
		if keyID == "" || secret == "" {
			return unauthorized(c, "MISSING_API_KEY", "API key id and secret are required")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		account, err := m.accountRepo.ByAPIKeyID(ctx, keyID)
		if err != nil {
			m.logger.Printf("trigger account lookup failed for key %s: %v", keyID, err)
			return unauthorized(c, "AUTH_FAILED", "Authentication failed")
		}
		if account == nil || !utils.IsTrue(account.IsActive) {
			// bcrypt against a fixed hash keeps timing comparable whether or
			// not the key id exists
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B0xZJb1lqkpEHPHAPS3mCwYzCdO2"), []byte(secret))
			return unauthorized(c, "INVALID_API_KEY", "Invalid API key")
		}

		if err := bcrypt.CompareHashAndPassword([]byte(account.SecretHash), []byte(secret)); err != nil {
			return unauthorized(c, "INVALID_API_KEY", "Invalid API key")
		}

		if m.rateLimiter != nil {
			allowed, err := m.rateLimiter.Allow(ctx, "trigger:"+keyID, account.RateLimitPerMin)
			if err != nil {
				// A broken limiter backend should not take the gateway down.
				m.logger.Printf("rate limit check failed for key %s: %v", keyID, err)
			} else if !allowed {
				return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
					Success: false,
					Message: "Rate limit exceeded",
					Error:   dto.ErrorDetail{Code: "RATE_LIMITED"},
				})
			}
		}

		if err := m.accountRepo.TouchLastSeen(ctx, account.ID, utils.UTCNow()); err != nil {
			m.logger.Printf("failed to touch last seen for trigger account %d: %v", account.ID, err)
		}

		c.Locals("trigger_account_id", account.ID)
		c.Locals("trigger_account_name", account.Name)

		return c.Next()
	}
}
