package handlers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/mkarimv/Raijin/app/dto"
	businessflow "github.com/mkarimv/Raijin/business_flow"
)

// TriggerHandlerInterface defines the contract for target injection handlers
type TriggerHandlerInterface interface {
	AddTarget(c fiber.Ctx) error
	ImportTargets(c fiber.Ctx) error
	AddDNC(c fiber.Ctx) error
	GetTarget(c fiber.Ctx) error
}

// TriggerHandler handles dial target injection HTTP requests
type TriggerHandler struct {
	triggerFlow businessflow.TriggerFlow
	validator   *validator.Validate
}

// NewTriggerHandler creates a new trigger handler
func NewTriggerHandler(triggerFlow businessflow.TriggerFlow) *TriggerHandler {
	return &TriggerHandler{
		triggerFlow: triggerFlow,
		validator:   validator.New(),
	}
}

func (h *TriggerHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *TriggerHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// AddTarget enqueues one phone number into a broadcast
func (h *TriggerHandler) AddTarget(c fiber.Ctx) error {
	var req dto.AddTargetRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", collectValidationErrors(err))
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	if name, ok := c.Locals("trigger_account_name").(string); ok {
		metadata.AddAdditional("trigger_account", name)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.triggerFlow.AddTarget(ctx, &req, metadata)
	if err != nil {
		switch {
		case businessflow.IsBroadcastNotFound(err):
			return h.ErrorResponse(c, fiber.StatusNotFound, "Broadcast not found", "BROADCAST_NOT_FOUND", nil)
		case businessflow.IsDuplicateTarget(err):
			return h.ErrorResponse(c, fiber.StatusConflict, "An active entry for this number already exists", "TARGET_DUPLICATE", nil)
		case businessflow.IsPhoneNumberOnDNC(err):
			return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Phone number is on the do-not-call registry", "PHONE_NUMBER_ON_DNC", nil)
		case businessflow.IsBroadcastNotRunning(err):
			return h.ErrorResponse(c, fiber.StatusConflict, "Broadcast does not accept targets", "BROADCAST_NOT_ACCEPTING", nil)
		}
		var berr *businessflow.BusinessError
		if asBusinessError(err, &berr) && berr.Code == "PHONE_NUMBER_INVALID" {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Phone number is invalid", berr.Code, nil)
		}
		log.Println("Target injection failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Target injection failed", "TARGET_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, result.Message, result)
}

// ImportTargets bulk-loads targets from an uploaded XLSX file
func (h *TriggerHandler) ImportTargets(c fiber.Ctx) error {
	req := dto.ImportTargetsRequest{BroadcastUUID: c.Params("uuid")}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "XLSX file is required", "IMPORT_FILE_MISSING", err.Error())
	}
	req.FileName = fileHeader.Filename

	file, err := fileHeader.Open()
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Failed to open uploaded file", "IMPORT_FILE_INVALID", err.Error())
	}
	defer file.Close()

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.triggerFlow.ImportTargetsXLSX(ctx, &req, file, metadata)
	if err != nil {
		if businessflow.IsBroadcastNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Broadcast not found", "BROADCAST_NOT_FOUND", nil)
		}
		var berr *businessflow.BusinessError
		if asBusinessError(err, &berr) && berr.Code == "IMPORT_FILE_INVALID" {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "XLSX file could not be read", berr.Code, nil)
		}
		log.Println("Target import failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Target import failed", "IMPORT_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// AddDNC records an operator opt-out
func (h *TriggerHandler) AddDNC(c fiber.Ctx) error {
	var req dto.AddDNCRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", collectValidationErrors(err))
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.triggerFlow.AddDNC(ctx, &req, metadata)
	if err != nil {
		var berr *businessflow.BusinessError
		if asBusinessError(err, &berr) && berr.Code == "PHONE_NUMBER_INVALID" {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Phone number is invalid", berr.Code, nil)
		}
		log.Println("DNC addition failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "DNC addition failed", "DNC_ADD_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, result.Message, result)
}

// GetTarget returns one dial target by UUID
func (h *TriggerHandler) GetTarget(c fiber.Ctx) error {
	req := dto.GetTargetRequest{UUID: c.Params("uuid")}
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.triggerFlow.GetTarget(ctx, &req, metadata)
	if err != nil {
		if businessflow.IsDialTargetNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Dial target not found", "TARGET_NOT_FOUND", nil)
		}
		log.Println("Target lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Target lookup failed", "TARGET_LOOKUP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Target retrieved successfully", result)
}
