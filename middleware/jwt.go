package middleware

import (
	"errors"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"dm-service/config"
	"dm-service/utils"
)

const (
	localToken  = "user"
	localCaller = "caller"
)

// JWT verifies the bearer access token and stores the parsed metadata for
// the handlers behind it.
func JWT() fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{
			JWTAlg: jwtware.HS512,
			Key:    []byte(config.Config("JWT_ACCESS_KEY")),
		},
		ContextKey: localToken,
		SuccessHandler: func(c *fiber.Ctx) error {
			token, ok := c.Locals(localToken).(*jwt.Token)
			if !ok {
				return unauthorized(c, "Invalid or expired JWT")
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return unauthorized(c, "Invalid or expired JWT")
			}
			meta, err := utils.MetadataFromClaims(claims)
			if err != nil {
				return unauthorized(c, "Invalid or expired JWT")
			}
			c.Locals(localCaller, meta)
			return c.Next()
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
				return c.Status(fiber.StatusBadRequest).
					JSON(fiber.Map{
						"status":  "error",
						"message": "Missing or malformed JWT",
						"data":    nil,
					})
			}
			return unauthorized(c, "Invalid or expired JWT")
		},
	})
}

// Caller returns the verified token metadata of the current request.
func Caller(c *fiber.Ctx) (*utils.TokenMetadata, bool) {
	meta, ok := c.Locals(localCaller).(*utils.TokenMetadata)
	return meta, ok && meta != nil
}

// SetCaller installs token metadata directly; tests and internal callers use
// it in place of a signed token.
func SetCaller(c *fiber.Ctx, meta *utils.TokenMetadata) {
	c.Locals(localCaller, meta)
}

// CallerID returns the numeric id of the authenticated user.
func CallerID(c *fiber.Ctx) (uint, bool) {
	meta, ok := Caller(c)
	if !ok {
		return 0, false
	}
	id, err := meta.UserID()
	if err != nil {
		return 0, false
	}
	return id, true
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).
		JSON(fiber.Map{
			"status":  "error",
			"message": msg,
			"data":    nil,
		})
}
