package routes

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumen-trade/signin/internal/infra"
)

// RegisterHealthRoutes adds liveness and readiness endpoints. Liveness never
// touches a dependency; readiness fails while Redis or Postgres is down since
// no login step can complete without them.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/healthz", func(c *fiber.Ctx) error {
		readiness := infra.Check(c.UserContext(), d.DB, d.Cache)
		status := http.StatusOK
		if !readiness.Ready() {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    readiness,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
