package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RequestIDHeader carries the per-request id echoed to clients
const RequestIDHeader = "X-Request-ID"

// quietPaths are scraped or polled too often to log
var quietPaths = map[string]bool{
	"/metrics":        true,
	"/health":         true,
	"/api/doa/stream": true,
}

// LoggingMiddleware tags requests with an id and logs them
func LoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		id := c.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)

		err := c.Next()

		path := c.Path()
		if quietPaths[path] {
			return err
		}

		level := slog.LevelInfo
		status := c.Response().StatusCode()
		if err != nil || status >= fiber.StatusInternalServerError {
			level = slog.LevelWarn
		}

		logger.Log(c.UserContext(), level, "http request",
			"request_id", id,
			"method", c.Method(),
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)

		return err
	}
}
