package api

import (
	"errors"

	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/gofiber/fiber/v2"
)

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindUnauthorized:
		return fiber.StatusUnauthorized
	case domain.KindNotFound:
		return fiber.StatusNotFound
	case domain.KindConflict:
		return fiber.StatusConflict
	case domain.KindInvalidInput:
		return fiber.StatusBadRequest
	case domain.KindRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func codeFor(kind domain.Kind) string {
	switch kind {
	case domain.KindInvalidInput:
		return "bad_request"
	case domain.KindInternal:
		return "server_error"
	default:
		return kind.String()
	}
}

// writeError renders a domain error. Internal causes stay out of the body.
func writeError(c *fiber.Ctx, err error) error {
	kind := domain.KindOf(err)
	return c.Status(statusFor(kind)).JSON(ErrorResponse{
		Error:   codeFor(kind),
		Message: domain.PublicMessage(err),
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "bad_request",
		Message: message,
	})
}

// customErrorHandler handles errors returned by handlers and Fiber itself.
func customErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(ErrorResponse{
			Error:   "server_error",
			Message: fe.Message,
		})
	}
	return writeError(c, err)
}
