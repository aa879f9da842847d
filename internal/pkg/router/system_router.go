package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type SystemRouter struct {
	checks map[string]Pinger
}

func NewSystemRouter(checks map[string]Pinger) *SystemRouter {
	return &SystemRouter{checks: checks}
}

func (s SystemRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", s.health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (s SystemRouter) health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	results := fiber.Map{}
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			status = fiber.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	return c.Status(status).JSON(fiber.Map{"ok": status == fiber.StatusOK, "checks": results})
}
