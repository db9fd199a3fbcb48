package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/gateway"
	"github.com/nfrund/relay/internal/middleware"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status          string  `json:"status"`
	Uptime          float64 `json:"uptime"`
	Connections     int     `json:"connections"`
	Typing          int     `json:"typing"`
	Outstanding     int     `json:"outstanding"`
	MessagesRelayed int64   `json:"messages_relayed"`
	Deliveries      int64   `json:"deliveries"`
	Undelivered     int64   `json:"undelivered"`
	RateLimited     int64   `json:"rate_limited"`
}

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	// Per-IP throttle for websocket upgrades only
	upgradeLimiter := middleware.RateLimiter(middleware.UpgradeLimit{
		Rate:  s.Cfg.WSUpgradeRate,
		Burst: s.Cfg.WSUpgradeBurst,
	})

	s.E.GET("/ws", gateway.Handler(s.Hub, s.Gateway, gateway.ConnOptions{
		SendBuffer:     s.Cfg.WSSendBuffer,
		WriteTimeout:   s.Cfg.WSWriteTimeout,
		OriginPatterns: s.Cfg.AllowedOrigins,
	}), upgradeLimiter)

	// Health check
	s.E.GET("/health", s.health)
}

func (s *Server) health(c echo.Context) error {
	stats := s.Activity.Stats().Snapshot()
	return c.JSON(http.StatusOK, HealthResponse{
		Status:          "ok",
		Uptime:          s.Uptime().Seconds(),
		Connections:     s.Registry.Count(),
		Typing:          s.Gateway.Typing(),
		Outstanding:     s.Tracker.Len(),
		MessagesRelayed: stats.MessagesRelayed,
		Deliveries:      stats.Deliveries,
		Undelivered:     stats.Undelivered,
		RateLimited:     stats.RateLimited,
	})
}
