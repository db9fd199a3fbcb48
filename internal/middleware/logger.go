package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

type contextKey string

const loggerKey = contextKey("logger")

// Logger injects a request-scoped logger into the context, pre-configured
// with the request ID. It must run after echo's RequestID middleware.
func Logger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Get request ID from the response header set by RequestID
		reqID := c.Response().Header().Get(echo.HeaderXRequestID)
		requestLogger := slog.Default().With("request_id", reqID)

		// Store the logger in the request's context
		newCtx := context.WithValue(c.Request().Context(), loggerKey, requestLogger)
		c.SetRequest(c.Request().WithContext(newCtx))

		return next(c)
	}
}

// AccessLog logs one line per completed request with the request-scoped
// logger. Websocket requests complete when the connection closes.
func AccessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		// Let the error handler write the response so the status is final
		if err != nil {
			c.Error(err)
		}

		req := c.Request()
		FromContext(req.Context()).Info("Request completed",
			"method", req.Method,
			"path", c.Path(),
			"status", c.Response().Status,
			"ip", c.RealIP(),
			"duration", time.Since(start),
		)
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
