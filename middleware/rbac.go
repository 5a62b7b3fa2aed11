package middleware

import (
	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// RBAC enforces casbin policy for (user id, path, method).
func RBAC(e casbin.IEnforcer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		meta, ok := Caller(c)
		if !ok {
			return unauthorized(c, "Invalid or expired JWT")
		}

		accepted, err := e.Enforce(meta.Id, c.Path(), c.Method())
		if err != nil {
			log.Error().Err(err).Str("path", c.Path()).Msg("casbin enforce")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status":  "error",
				"message": "Internal server error",
				"data":    nil,
			})
		}

		if !accepted {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"status":  "error",
				"message": "Unauthorized",
				"data":    nil,
			})
		}

		return c.Next()
	}
}
