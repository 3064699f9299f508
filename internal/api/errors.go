package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/consult-recorder/internal/model"
)

// errorHandler renders every error as {"error": <status text>, "details": <message>}.
func errorHandler(c *fiber.Ctx, err error) error {
	code, details := classify(err)
	if code == fiber.StatusServiceUnavailable {
		c.Set(fiber.HeaderRetryAfter, "1")
	}
	if code >= fiber.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.Path()).Warn("request failed")
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   utils.StatusMessage(code),
		"details": details,
	})
}

func classify(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case model.IsValidation(err):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrSessionNotFound), errors.Is(err, model.ErrNotFound):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, model.ErrTicketInvalid):
		return fiber.StatusUnauthorized, err.Error()
	case errors.Is(err, model.ErrTicketExpired):
		return fiber.StatusGone, err.Error()
	case errors.Is(err, model.ErrTicketUsed), errors.Is(err, model.ErrTicketInFlight), errors.Is(err, model.ErrChunkNotDurable),
		errors.Is(err, model.ErrSessionNotCompleted):
		return fiber.StatusConflict, err.Error()
	case model.IsRetryable(err):
		return fiber.StatusServiceUnavailable, err.Error()
	default:
		return fiber.StatusInternalServerError, "internal server error"
	}
}
