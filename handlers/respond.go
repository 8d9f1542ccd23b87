// handlers/respond.go
package handlers

import (
	"errors"
	"log/slog"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"cookie-claim-system/services"
)

var validate = validator.New()

// respondError maps service errors to a status and a stable code.
// Anything without a code is logged and reported as an internal error.
func respondError(c *fiber.Ctx, err error) error {
	code := services.RejectionCode(err)
	if code == "" {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
			"code":  "INTERNAL",
		})
	}

	body := fiber.Map{"error": err.Error(), "code": code}

	var blacklisted *services.BlacklistedError
	var daily *services.DailyLimitError
	var cooldown *services.CooldownError
	var balance *services.InsufficientBalanceError
	switch {
	case errors.As(err, &blacklisted):
		body["expires"] = blacklisted.Expires
	case errors.As(err, &daily):
		body["count"] = daily.Count
		body["limit"] = daily.Limit
	case errors.As(err, &cooldown):
		body["remaining_seconds"] = int64(math.Ceil(cooldown.Remaining.Seconds()))
	case errors.As(err, &balance):
		body["needed"] = balance.Needed
		body["balance"] = balance.Balance
	}

	return c.Status(statusFor(err)).JSON(body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrClaimInProgress),
		errors.Is(err, services.ErrAlreadyRated),
		errors.Is(err, services.ErrOutOfStock),
		errors.Is(err, services.ErrClaimMismatch):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrMaintenanceMode),
		errors.Is(err, services.ErrConfiguration):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, services.ErrBlacklisted),
		errors.Is(err, services.ErrAccessDenied),
		errors.Is(err, services.ErrCommunityDisabled),
		errors.Is(err, services.ErrWrongChannel):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrDailyLimitReached),
		errors.Is(err, services.ErrCooldownActive):
		return fiber.StatusTooManyRequests
	case errors.Is(err, services.ErrInsufficientBalance),
		errors.Is(err, services.ErrInsufficientFunds):
		return fiber.StatusPaymentRequired
	case errors.Is(err, services.ErrUnknownItem),
		errors.Is(err, services.ErrNoActiveClaim),
		errors.Is(err, services.ErrUserNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrClaimSanctioned):
		return fiber.StatusGone
	case errors.Is(err, services.ErrDeliveryFailed):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusBadRequest
	}
}

// parseBody decodes and validates a JSON body. When it returns false the
// error response has already been written.
func parseBody(c *fiber.Ctx, out any) (bool, error) {
	if err := c.BodyParser(out); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
			"code":  "INVALID_BODY",
		})
	}
	if err := validate.Struct(out); err != nil {
		fields := fiber.Map{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "validation failed",
			"code":   "VALIDATION",
			"fields": fields,
		})
	}
	return true, nil
}

func missingCommunity(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "missing X-Community-ID",
		"code":  "MISSING_COMMUNITY",
	})
}
