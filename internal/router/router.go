package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/taskchat-api/internal/config"
	"github.com/noah-isme/taskchat-api/internal/handler"
	"github.com/noah-isme/taskchat-api/internal/middleware"
	"github.com/noah-isme/taskchat-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler         *handler.ChatHandler
	MessageHandler      *handler.MessageHandler
	NotificationHandler *handler.NotificationHandler
	UploadHandler       *handler.UploadHandler
	RealtimeHandler     *handler.RealtimeHandler
	HealthProbes        map[string]handler.HealthProbe
	JWTMiddleware       fiber.Handler
	MessageRateLimit    fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	v2 := app.Group("/api/v2", jwtMiddleware)

	chats := v2.Group("/chats")
	if deps.MessageHandler != nil {
		if deps.MessageRateLimit != nil {
			chats.Post("/:id/messages", deps.MessageRateLimit)
		}
		deps.MessageHandler.RegisterChatScoped(chats)
		deps.MessageHandler.Register(v2.Group("/messages"))
	}
	if deps.UploadHandler != nil {
		deps.UploadHandler.Register(chats)
	}
	if deps.ChatHandler != nil {
		deps.ChatHandler.Register(chats)
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(v2.Group("/notifications"), middleware.RequireRole("system", "admin"))
	}

	if deps.RealtimeHandler != nil {
		deps.RealtimeHandler.Register(v2.Group("/realtime"))
	}
}
