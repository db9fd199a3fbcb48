package server

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/middleware"
)

// setupErrorHandling installs an error handler that answers with JSON and
// logs unhandled errors with a stack trace.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		// Handle Echo's HTTP errors
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			_ = c.JSON(he.Code, map[string]string{"error": msg})
			return
		}

		// Anything else is a bug; log it with a stack trace
		middleware.FromContext(c.Request().Context()).Error("Internal Server Error (Unhandled)",
			"error", err,
			"path", c.Path(),
			"stack_trace", string(debug.Stack()),
		)
		_ = c.JSON(http.StatusInternalServerError, map[string]string{
			"error": http.StatusText(http.StatusInternalServerError),
		})
	}
}
