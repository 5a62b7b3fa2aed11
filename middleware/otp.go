package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// OTP blocks tokens that were issued before the second factor was checked.
func OTP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		meta, ok := Caller(c)
		if !ok {
			return unauthorized(c, "Invalid or expired JWT")
		}

		if meta.Otp {
			return c.Status(fiber.StatusBadRequest).
				JSON(fiber.Map{
					"status":  "error",
					"message": "2FA required",
					"data":    nil,
				})
		}

		return c.Next()
	}
}
