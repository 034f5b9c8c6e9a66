package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

type contextKey string

const loggerKey = contextKey("logger")

// Logger is a middleware that injects a request-scoped logger into the context
// and logs each completed request. It should be placed after the RequestID
// middleware in the chain.
func Logger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		reqID := c.Response().Header().Get(echo.HeaderXRequestID)
		requestLogger := slog.Default().With(
			"request_id", reqID,
			"method", req.Method,
			"path", req.URL.Path,
		)

		newCtx := context.WithValue(req.Context(), loggerKey, requestLogger)
		c.SetRequest(req.WithContext(newCtx))

		err := next(c)
		if err != nil {
			// Let echo's error handler pick the status before we log it.
			c.Error(err)
		}

		requestLogger.Info("Request completed",
			"status", c.Response().Status,
			"latency", time.Since(start),
			"remote_ip", c.RealIP())
		return nil
	}
}

// FromContext returns the request-scoped logger, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
