package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/mkarimv/Raijin/app/dto"
	"github.com/mkarimv/Raijin/app/services"
)

// AuthMiddleware handles JWT token validation for operator endpoints
type AuthMiddleware struct {
	tokenService services.TokenService
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

// Authenticate is the middleware function that validates JWT tokens
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "MISSING_AUTHORIZATION_HEADER", "Authorization header is required")
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c, "INVALID_AUTHORIZATION_FORMAT", "Invalid authorization header format. Expected 'Bearer <token>'")
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return unauthorized(c, "MISSING_ACCESS_TOKEN", "Access token is required")
		}

		claims, err := m.tokenService.ValidateToken(token)
		if err != nil {
			if errors.Is(err, services.ErrTokenExpired) {
				return unauthorized(c, "TOKEN_EXPIRED", "Access token has expired")
			}
			return unauthorized(c, "TOKEN_INVALID", "Invalid access token")
		}

		c.Locals("operator_id", claims.OperatorID)
		c.Locals("token_id", claims.TokenID)

		return c.Next()
	}
}

func unauthorized(c fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: code,
		},
	})
}
