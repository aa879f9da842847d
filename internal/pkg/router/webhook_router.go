package router

import (
	"time"

	"github.com/ManuelReschke/memberhub/app/controllers"
	"github.com/ManuelReschke/memberhub/internal/pkg/logger"
	"github.com/ManuelReschke/memberhub/internal/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type WebhookRouter struct {
	billing *controllers.BillingController
	log     logger.Logger
	max     int
	window  time.Duration
	// storage backs the limiter counters; nil keeps them in memory.
	storage fiber.Storage
}

type WebhookRouterOption func(*WebhookRouter)

func WithRateLimit(max int, window time.Duration) WebhookRouterOption {
	return func(w *WebhookRouter) {
		if max > 0 {
			w.max = max
		}
		if window > 0 {
			w.window = window
		}
	}
}

func WithLimiterStorage(s fiber.Storage) WebhookRouterOption {
	return func(w *WebhookRouter) { w.storage = s }
}

func NewWebhookRouter(billing *controllers.BillingController, log logger.Logger, opts ...WebhookRouterOption) *WebhookRouter {
	w := &WebhookRouter{
		billing: billing,
		log:     log,
		max:     120,
		window:  time.Minute,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logger.NewNop()
	}
	return w
}

func (w WebhookRouter) InstallRouter(app *fiber.App) {
	hooks := app.Group("/webhooks", limiter.New(limiter.Config{
		Max:        w.max,
		Expiration: w.window,
		Storage:    w.storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "webhook:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			metrics.WebhookRejections.WithLabelValues("rate_limited").Inc()
			w.log.Warn("suspicious webhook traffic", map[string]interface{}{
				"ip":   c.IP(),
				"path": c.Path(),
			})
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}))

	hooks.Post("/stripe", w.billing.HandleStripeWebhook)
}
