package api

import (
	"context"
	"strings"

	"github.com/example/realtime-chat/modules/auth"
	"github.com/gofiber/fiber/v2"
)

// TokenValidator validates access tokens.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthMiddleware creates a middleware that validates JWT tokens.
func AuthMiddleware(validator TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Authorization header is required",
			})
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid authorization header format. Use: Bearer <token>",
			})
		}

		claims, err := validator.ValidateToken(c.UserContext(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid or expired token",
			})
		}

		c.Locals(UserContextKey, claims)
		return c.Next()
	}
}

// claimsFrom returns the claims stored by AuthMiddleware.
func claimsFrom(c *fiber.Ctx) (*auth.Claims, bool) {
	claims, ok := c.Locals(UserContextKey).(*auth.Claims)
	return claims, ok && claims != nil
}

// bearerToken reads the access token of a websocket upgrade. Browsers cannot
// set headers on the handshake, so the access_token query parameter is
// accepted as well.
func bearerToken(c *fiber.Ctx) string {
	if token, ok := strings.CutPrefix(c.Get("Authorization"), "Bearer "); ok && token != "" {
		return token
	}
	return c.Query("access_token")
}
