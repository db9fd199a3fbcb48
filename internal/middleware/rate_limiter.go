package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// UpgradeLimit bounds how often one IP address may open websocket
// connections.
type UpgradeLimit struct {
	// Rate is the sustained number of upgrades per second.
	Rate float64
	// Burst is how many upgrades may arrive at once.
	Burst int
	// ExpiresIn is how long an idle visitor's bucket is kept.
	ExpiresIn time.Duration
}

// RateLimiter limits requests per client IP with a token bucket. Denied
// requests get 429 before any websocket upgrade happens.
func RateLimiter(limit UpgradeLimit) echo.MiddlewareFunc {
	if limit.ExpiresIn <= 0 {
		limit.ExpiresIn = 3 * time.Minute
	}

	config := middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(limit.Rate),
			Burst:     limit.Burst,
			ExpiresIn: limit.ExpiresIn,
		}),
		// Identify visitors by IP
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		// Custom handler for when the limit is exceeded
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			FromContext(c.Request().Context()).Warn("Connection rate limit exceeded", "ip", identifier)
			return c.String(http.StatusTooManyRequests, "Too many requests. Please try again later.")
		},
	}
	return middleware.RateLimiterWithConfig(config)
}
