package handlers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/mkarimv/Raijin/app/dto"
	businessflow "github.com/mkarimv/Raijin/business_flow"
)

// ProviderAccountHandlerInterface defines the contract for provider account handlers
type ProviderAccountHandlerInterface interface {
	CreateAccount(c fiber.Ctx) error
	ListAccounts(c fiber.Ctx) error
	TestConnection(c fiber.Ctx) error
}

// ProviderAccountHandler handles provider account HTTP requests
type ProviderAccountHandler struct {
	providerFlow businessflow.ProviderFlow
	validator    *validator.Validate
}

// NewProviderAccountHandler creates a new provider account handler
func NewProviderAccountHandler(providerFlow businessflow.ProviderFlow) *ProviderAccountHandler {
	return &ProviderAccountHandler{
		providerFlow: providerFlow,
		validator:    validator.New(),
	}
}

func (h *ProviderAccountHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *ProviderAccountHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateAccount registers a new caller number
func (h *ProviderAccountHandler) CreateAccount(c fiber.Ctx) error {
	var req dto.CreateProviderAccountRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", collectValidationErrors(err))
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.providerFlow.CreateAccount(ctx, &req, metadata)
	if err != nil {
		var berr *businessflow.BusinessError
		if asBusinessError(err, &berr) {
			switch berr.Code {
			case "PROVIDER_TYPE_INVALID", "PROVIDER_CREDENTIALS_INVALID", "PHONE_NUMBER_INVALID":
				return h.ErrorResponse(c, fiber.StatusBadRequest, berr.Message, berr.Code, nil)
			}
		}
		log.Println("Provider account creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Provider account creation failed", "PROVIDER_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, result.Message, result)
}

// ListAccounts returns all provider accounts
func (h *ProviderAccountHandler) ListAccounts(c fiber.Ctx) error {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.providerFlow.ListAccounts(ctx, metadata)
	if err != nil {
		log.Println("Provider account list failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Provider account list failed", "PROVIDER_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Provider accounts retrieved successfully", result)
}

// TestConnection probes the provider backend with the account's credentials
func (h *ProviderAccountHandler) TestConnection(c fiber.Ctx) error {
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.providerFlow.TestConnection(ctx, c.Params("uuid"), metadata)
	if err != nil {
		switch {
		case businessflow.IsProviderMisconfigured(err):
			return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Provider account is misconfigured", "PROVIDER_MISCONFIGURED", nil)
		case businessflow.IsNoProviderCapacity(err):
			return h.ErrorResponse(c, fiber.StatusConflict, "No provider capacity", "NO_PROVIDER_CAPACITY", nil)
		}
		var berr *businessflow.BusinessError
		if asBusinessError(err, &berr) && berr.Code == "PROVIDER_NOT_FOUND" {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Provider account not found", berr.Code, nil)
		}
		log.Println("Provider connection test failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Provider connection test failed", "PROVIDER_TEST_FAILED", nil)
	}

	status := fiber.StatusOK
	if !result.Healthy {
		status = fiber.StatusBadGateway
	}
	return h.SuccessResponse(c, status, result.Message, result)
}
