package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"

	"github.com/mkarimv/Raijin/app/dispatcher"
	"github.com/mkarimv/Raijin/app/dto"
	"github.com/mkarimv/Raijin/app/services"
	businessflow "github.com/mkarimv/Raijin/business_flow"
	"github.com/mkarimv/Raijin/models"
	"github.com/mkarimv/Raijin/repository"
	"github.com/mkarimv/Raijin/utils"
)

// signatureHeaders maps each provider to the header carrying its webhook
// signature
var signatureHeaders = map[models.ProviderType]string{
	models.ProviderTypeTwilio:   "X-Twilio-Signature",
	models.ProviderTypeRetell:   "X-Retell-Signature",
	models.ProviderTypeTelnyx:   "Telnyx-Signature-Ed25519",
	models.ProviderTypeSipTrunk: "X-Signature",
}

// WebhookHandlerInterface defines the contract for provider webhook handlers
type WebhookHandlerInterface interface {
	HandleProviderEvent(c fiber.Ctx) error
}

// WebhookHandler receives provider status callbacks, authenticates them and
// feeds normalized events into the outcome processor. Providers retry
// webhooks aggressively, so every response that is not an auth failure is a
// 200; a non-2xx would only trigger another redelivery of an event the
// processor already treats idempotently.
type WebhookHandler struct {
	accountRepo    repository.ProviderAccountRepository
	outcome        *dispatcher.OutcomeProcessor
	adapterFactory services.AdapterFactory
	redis          redis.UniversalClient
	webhookBaseURL string
	logger         *log.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(
	accountRepo repository.ProviderAccountRepository,
	outcome *dispatcher.OutcomeProcessor,
	adapterFactory services.AdapterFactory,
	redisClient redis.UniversalClient,
	webhookBaseURL string,
	logger *log.Logger,
) *WebhookHandler {
	if adapterFactory == nil {
		adapterFactory = services.NewAdapter
	}
	if logger == nil {
		logger = log.Default()
	}
	return &WebhookHandler{
		accountRepo:    accountRepo,
		outcome:        outcome,
		adapterFactory: adapterFactory,
		redis:          redisClient,
		webhookBaseURL: webhookBaseURL,
		logger:         logger,
	}
}

func (h *WebhookHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error:   dto.ErrorDetail{Code: errorCode},
	})
}

func (h *WebhookHandler) OKResponse(c fiber.Ctx, message string) error {
	return c.Status(fiber.StatusOK).JSON(dto.APIResponse{
		Success: true,
		Message: message,
	})
}

// HandleProviderEvent processes one provider status callback
func (h *WebhookHandler) HandleProviderEvent(c fiber.Ctx) error {
	providerType := models.ProviderType(c.Params("provider"))
	if !providerType.Valid() {
		return h.ErrorResponse(c, fiber.StatusNotFound, "Unknown provider", "UNKNOWN_PROVIDER")
	}

	// fiber reuses the body buffer after the handler returns
	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	signature := c.Get(signatureHeaders[providerType])
	adapter, err := h.authenticate(c, providerType, body, signature)
	if err != nil {
		h.logger.Printf("webhook auth failed for %s from %s: %v", providerType, c.IP(), err)
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Webhook signature verification failed", "INVALID_SIGNATURE")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if dup, err := h.isDuplicate(ctx, providerType, body); err != nil {
		h.logger.Printf("webhook dedup check failed: %v", err)
	} else if dup {
		return h.OKResponse(c, "Duplicate event ignored")
	}

	event, err := adapter.ParseEvent(body)
	if err != nil {
		h.logger.Printf("unparseable %s webhook: %v", providerType, err)
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Unparseable webhook payload", "UNPARSEABLE_PAYLOAD")
	}
	if event == nil || event.ProviderCallID == "" {
		return h.OKResponse(c, "Event carries no call reference, ignored")
	}

	if err := h.outcome.HandleCallEvent(ctx, event); err != nil {
		if businessflow.IsStaleCall(err) {
			// The call this event references is long settled; acknowledging
			// stops the provider's redelivery loop.
			return h.OKResponse(c, "Event references a settled call, ignored")
		}
		h.logger.Printf("failed to process %s webhook for call %s: %v", providerType, event.ProviderCallID, err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Event processing failed", "EVENT_PROCESSING_FAILED")
	}

	return h.OKResponse(c, "Event processed")
}

// authenticate tries the signature against every active account of the
// provider type. Accounts per provider are few, and only the matching
// account's credentials can produce a valid signature.
func (h *WebhookHandler) authenticate(c fiber.Ctx, providerType models.ProviderType, body []byte, signature string) (services.ProviderAdapter, error) {
	ctx, cancel := requestContext(c)
	defer cancel()

	active := true
	accounts, err := h.accountRepo.ByFilter(ctx, models.ProviderAccountFilter{
		ProviderType: &providerType,
		IsActive:     &active,
	}, "", 0, 0)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, businessflow.ErrProviderNotFound
	}

	var lastErr error
	for _, account := range accounts {
		adapter, err := h.adapterFactory(account)
		if err != nil {
			lastErr = err
			continue
		}
		if tp, ok := adapter.(*services.TwilioProvider); ok {
			// Twilio signs the full callback URL together with the body.
			tp.WebhookURL = h.webhookBaseURL + "/api/v1/webhooks/" + string(providerType)
		}
		if err := adapter.VerifySignature(body, signature); err != nil {
			lastErr = err
			continue
		}
		return adapter, nil
	}
	if lastErr == nil {
		lastErr = businessflow.ErrInvalidSecretKey
	}
	return nil, lastErr
}

// isDuplicate remembers each payload hash in redis so provider redeliveries
// are dropped before touching the database
func (h *WebhookHandler) isDuplicate(ctx context.Context, providerType models.ProviderType, body []byte) (bool, error) {
	if h.redis == nil {
		return false, nil
	}
	sum := sha256.Sum256(body)
	key := "webhook:dedup:" + string(providerType) + ":" + hex.EncodeToString(sum[:])
	set, err := h.redis.SetNX(ctx, key, time.Now().UTC().Unix(), utils.WebhookDedupTTL).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}
