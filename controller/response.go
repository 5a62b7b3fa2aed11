package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"dm-service/api"
	"dm-service/messenger"
)

func success(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  api.StatusSuccess,
		"message": nil,
		"data":    data,
	})
}

func failure(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":  api.StatusError,
		"message": msg,
		"data":    nil,
	})
}

func internal(c *fiber.Ctx, err error) error {
	log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
	return failure(c, fiber.StatusInternalServerError, "Internal server error")
}

// domainError maps messenger error codes onto HTTP statuses. Anything
// without a code is a storage or infrastructure failure.
func domainError(c *fiber.Ctx, err error) error {
	switch messenger.CodeOf(err) {
	case messenger.CodeInvalidParticipants, messenger.CodeEmptyContent, messenger.CodeContentTooLong:
		return failure(c, fiber.StatusBadRequest, err.Error())
	case messenger.CodeForbidden, messenger.CodeForbiddenSender, messenger.CodeNotFound:
		return failure(c, fiber.StatusForbidden, messenger.ErrForbidden.Message)
	default:
		return internal(c, err)
	}
}
