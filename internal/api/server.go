package api

import (
	"github.com/fathima-sithara/order-messaging/internal/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

type Options struct {
	Name            string
	RateLimitPerMin int
	// BodyLimit must leave room for the largest attachment plus form fields.
	BodyLimit int
	// Upstreams reports the circuit breaker state of outbound clients by name.
	Upstreams map[string]func() string
}

// NewServer builds the HTTP app. mounts register extra authenticated routes
// (the WebSocket views) under /v1.
func NewServer(opts Options, h *Handlers, jv TokenValidator, m *metrics.Metrics, log *zap.SugaredLogger, mounts ...func(fiber.Router)) *fiber.App {
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = 11 << 20
	}
	app := fiber.New(fiber.Config{
		AppName:      opts.Name,
		BodyLimit:    opts.BodyLimit,
		ErrorHandler: errorHandler(log),
	})
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(logger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		body := fiber.Map{"status": "ok"}
		if len(opts.Upstreams) > 0 {
			states := make(fiber.Map, len(opts.Upstreams))
			for name, state := range opts.Upstreams {
				states[name] = state()
			}
			body["upstreams"] = states
		}
		return c.JSON(body)
	})
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	limiter := NewUserRateLimiter(opts.RateLimitPerMin, log)
	app.Hooks().OnShutdown(func() error {
		limiter.Close()
		return nil
	})

	v1 := app.Group("/v1", JWTAuth(jv), limiter.Handler())

	orders := v1.Group("/orders/:order_id")
	orders.Post("/messages", h.sendMessage)
	orders.Post("/attachments", h.uploadAttachment)
	orders.Get("/conversations", h.listConversations)
	orders.Get("/conversations/:peer_id/messages", h.listMessages)
	orders.Post("/conversations/:peer_id/read", h.markRead)
	orders.Get("/unread", h.unread)

	for _, mount := range mounts {
		mount(v1)
	}
	return app
}
