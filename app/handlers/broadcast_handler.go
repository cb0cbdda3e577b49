package handlers

import (
	"context"
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/mkarimv/Raijin/app/dto"
	businessflow "github.com/mkarimv/Raijin/business_flow"
)

// BroadcastHandlerInterface defines the contract for broadcast handlers
type BroadcastHandlerInterface interface {
	CreateBroadcast(c fiber.Ctx) error
	UpdateSpec(c fiber.Ctx) error
	StartBroadcast(c fiber.Ctx) error
	PauseBroadcast(c fiber.Ctx) error
	StopBroadcast(c fiber.Ctx) error
	GetBroadcast(c fiber.Ctx) error
	ListBroadcasts(c fiber.Ctx) error
	GetStats(c fiber.Ctx) error
}

// BroadcastHandler handles broadcast-related HTTP requests
type BroadcastHandler struct {
	broadcastFlow businessflow.BroadcastFlow
	validator     *validator.Validate
}

// NewBroadcastHandler creates a new broadcast handler
func NewBroadcastHandler(broadcastFlow businessflow.BroadcastFlow) *BroadcastHandler {
	return &BroadcastHandler{
		broadcastFlow: broadcastFlow,
		validator:     validator.New(),
	}
}

func (h *BroadcastHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *BroadcastHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateBroadcast handles the broadcast creation process
func (h *BroadcastHandler) CreateBroadcast(c fiber.Ctx) error {
	var req dto.CreateBroadcastRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", collectValidationErrors(err))
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.broadcastFlow.CreateBroadcast(ctx, &req, metadata)
	if err != nil {
		if businessflow.IsBroadcastSpecInvalid(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Broadcast spec is invalid", "BROADCAST_SPEC_INVALID", err.Error())
		}
		log.Println("Broadcast creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Broadcast creation failed", "BROADCAST_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, result.Message, result)
}

// UpdateSpec handles the broadcast spec update process
func (h *BroadcastHandler) UpdateSpec(c fiber.Ctx) error {
	var req dto.UpdateBroadcastSpecRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.UUID = c.Params("uuid")

	if err := h.validator.Struct(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", collectValidationErrors(err))
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.broadcastFlow.UpdateSpec(ctx, &req, metadata)
	if err != nil {
		if businessflow.IsBroadcastNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Broadcast not found", "BROADCAST_NOT_FOUND", nil)
		}
		if businessflow.IsBroadcastSpecInvalid(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Broadcast spec is invalid", "BROADCAST_SPEC_INVALID", err.Error())
		}
		log.Println("Broadcast spec update failed", err)
		return h.ErrorResponse(c, fiber.StatusConflict, "Broadcast spec update failed", "BROADCAST_UPDATE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// StartBroadcast handles the broadcast start action
func (h *BroadcastHandler) StartBroadcast(c fiber.Ctx) error {
	return h.action(c, h.broadcastFlow.StartBroadcast, "Broadcast start failed")
}

// PauseBroadcast handles the broadcast pause action
func (h *BroadcastHandler) PauseBroadcast(c fiber.Ctx) error {
	return h.action(c, h.broadcastFlow.PauseBroadcast, "Broadcast pause failed")
}

// StopBroadcast handles the broadcast stop action
func (h *BroadcastHandler) StopBroadcast(c fiber.Ctx) error {
	return h.action(c, h.broadcastFlow.StopBroadcast, "Broadcast stop failed")
}

func (h *BroadcastHandler) action(c fiber.Ctx, fn func(context.Context, *dto.BroadcastActionRequest, *businessflow.ClientMetadata) (*dto.BroadcastActionResponse, error), failMsg string) error {
	req := dto.BroadcastActionRequest{UUID: c.Params("uuid")}
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := fn(ctx, &req, metadata)
	if err != nil {
		if businessflow.IsBroadcastNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Broadcast not found", "BROADCAST_NOT_FOUND", nil)
		}
		var berr *businessflow.BusinessError
		if ok := asBusinessError(err, &berr); ok && berr.Code == "BROADCAST_STATUS_CONFLICT" {
			return h.ErrorResponse(c, fiber.StatusConflict, "Broadcast status changed concurrently", berr.Code, nil)
		}
		log.Println(failMsg, err)
		return h.ErrorResponse(c, fiber.StatusConflict, failMsg, "BROADCAST_ACTION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// GetBroadcast returns one broadcast by UUID
func (h *BroadcastHandler) GetBroadcast(c fiber.Ctx) error {
	req := dto.GetBroadcastRequest{UUID: c.Params("uuid")}
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.broadcastFlow.GetBroadcast(ctx, &req, metadata)
	if err != nil {
		if businessflow.IsBroadcastNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Broadcast not found", "BROADCAST_NOT_FOUND", nil)
		}
		log.Println("Broadcast lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Broadcast lookup failed", "BROADCAST_LOOKUP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Broadcast retrieved successfully", result)
}

// ListBroadcasts returns a page of broadcasts
func (h *BroadcastHandler) ListBroadcasts(c fiber.Ctx) error {
	req := dto.ListBroadcastsRequest{Page: 1, PageSize: 20}
	if v := c.Query("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			req.Page = p
		}
	}
	if v := c.Query("page_size"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			req.PageSize = p
		}
	}
	if v := c.Query("status"); v != "" {
		req.Status = &v
	}
	if v := c.Query("name"); v != "" {
		req.Name = &v
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.broadcastFlow.ListBroadcasts(ctx, &req, metadata)
	if err != nil {
		log.Println("Broadcast list failed", err)
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Broadcast list failed", "BROADCAST_LIST_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Broadcasts retrieved successfully", result)
}

// GetStats returns live progress counters for a broadcast
func (h *BroadcastHandler) GetStats(c fiber.Ctx) error {
	req := dto.GetBroadcastRequest{UUID: c.Params("uuid")}
	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.broadcastFlow.GetStats(ctx, &req, metadata)
	if err != nil {
		if businessflow.IsBroadcastNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Broadcast not found", "BROADCAST_NOT_FOUND", nil)
		}
		log.Println("Broadcast stats failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Broadcast stats failed", "BROADCAST_STATS_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Broadcast stats retrieved successfully", result)
}
