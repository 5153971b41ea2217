package handler

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/mkundi/tumapay/internal/core/domain"
)

// statusFor maps the domain error taxonomy onto HTTP statuses. This is the
// single place that knows about both worlds.
func statusFor(err error) int {
	var validation *domain.ValidationError
	var notFound *domain.NotFoundError

	switch {
	case errors.As(err, &validation):
		return fiber.StatusBadRequest
	case errors.As(err, &notFound), errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCredentials):
		return fiber.StatusUnauthorized
	case errors.Is(err, domain.ErrAccountExists),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrTransferConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrHandleExhausted),
		errors.Is(err, domain.ErrRandomness),
		errors.Is(err, domain.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError renders err as a JSON error body. Infrastructure failures are
// logged with detail but reported generically, so store internals never
// reach the caller.
func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status >= fiber.StatusInternalServerError {
		slog.Error("request failed", "path", c.Path(), "status", status, "error", err)
		msg = "service temporarily unavailable"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
