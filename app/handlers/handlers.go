// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	businessflow "github.com/mkarimv/Raijin/business_flow"
)

const requestTimeout = 30 * time.Second

type requestContextKey string

const requestIDContextKey requestContextKey = "request_id"

// requestContext builds the context handed to business flows. Fiber reuses
// its per-request context after the handler returns, so flows get a detached
// one with a hard timeout instead.
func requestContext(c fiber.Ctx) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	if rid := c.Get(businessflow.RequestIDKey); rid != "" {
		ctx = context.WithValue(ctx, requestIDContextKey, rid)
	}
	return ctx, cancel
}

func asBusinessError(err error, target **businessflow.BusinessError) bool {
	return errors.As(err, target)
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param()
	case "max":
		return err.Field() + " must be at most " + err.Param()
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "uuid4":
		return err.Field() + " must be a valid UUID"
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}

func collectValidationErrors(err error) []string {
	var messages []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, ve := range verrs {
			messages = append(messages, getValidationErrorMessage(ve))
		}
		return messages
	}
	return []string{err.Error()}
}
