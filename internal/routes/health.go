package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		status := fiber.Map{}
		healthy := true

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if d.DB != nil {
			status["postgres"] = "ok"
			if err := d.DB.Ping(ctx); err != nil {
				status["postgres"] = err.Error()
				healthy = false
			}
		}
		if d.Cache != nil {
			status["redis"] = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				status["redis"] = err.Error()
				healthy = false
			}
		}
		if d.NATS != nil {
			// Notifications are best effort; a disconnected bus does not fail readiness.
			status["nats"] = "ok"
			if d.NATS.Status() != nats.CONNECTED {
				status["nats"] = d.NATS.Status().String()
			}
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
