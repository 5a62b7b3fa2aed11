package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"dm-service/controller"
	"dm-service/middleware"
)

type Handlers struct {
	Auth      *controller.Auth
	User      *controller.User
	Messenger *controller.Messenger
	// RBAC guards the conversation routes; nil skips policy checks.
	RBAC fiber.Handler
	// Limiter counts conversation requests per user; nil disables limiting.
	Limiter     middleware.WindowCounter
	RateLimit   int
	RateWindow  time.Duration
	AccessLog   bool
	TokenVerify fiber.Handler
}

func Rest(app *fiber.App, h Handlers) {
	handlers := []fiber.Handler{}
	if h.AccessLog {
		handlers = append(handlers, logger.New())
	}
	api := app.Group("/v1", handlers...)

	authenticate := h.TokenVerify
	if authenticate == nil {
		authenticate = middleware.JWT()
	}

	// Auth
	auth := api.Group("/auth")
	auth.Post("/signup", h.Auth.Signup)
	auth.Post("/signin", h.Auth.Signin)
	auth.Post("/token/renew", h.Auth.TokenRenew)
	auth.Post("/2fa/secret", authenticate, middleware.OTP(), h.Auth.OtpSecret)
	auth.Post("/2fa/verify", authenticate, middleware.OTP(), h.Auth.OtpVerify)
	auth.Post("/2fa/validate", authenticate, h.Auth.OtpValidate)
	auth.Post("/2fa/disable", authenticate, middleware.OTP(), h.Auth.OtpDisable)

	// User
	// Per-route guards: a "/user" group middleware would also prefix-match "/users".
	api.Get("/user/profile", authenticate, middleware.OTP(), h.User.Profile)
	api.Get("/users/:id", authenticate, middleware.OTP(), h.User.PublicProfile)

	// Conversations
	guards := []fiber.Handler{authenticate, middleware.OTP()}
	if h.RBAC != nil {
		guards = append(guards, h.RBAC)
	}
	if h.Limiter != nil {
		guards = append(guards, middleware.RateLimit(h.Limiter, h.RateLimit, h.RateWindow))
	}
	conversations := api.Group("/conversations", guards...)
	conversations.Get("", h.Messenger.ListConversations)
	conversations.Post("", h.Messenger.CreateConversation)
	conversations.Get("/:id", h.Messenger.GetMessages)
	conversations.Post("/:id", h.Messenger.SendMessage)
}
