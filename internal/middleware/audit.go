package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// Audit writes one structured log line per money-moving request, tagged with
// the request id. Read-only requests are skipped; the access log covers them.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		err := c.Next()

		reqID, _ := c.Locals(RequestIDHeader).(string)
		logger.Info("ledger operation",
			"request_id", reqID,
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
		)
		return err
	}
}
