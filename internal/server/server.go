// Package server wires the relay's services into an echo HTTP server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/relay/internal/activity"
	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/delivery"
	"github.com/nfrund/relay/internal/gateway"
	appmiddleware "github.com/nfrund/relay/internal/middleware"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/protocol"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

// Server holds the relay's services and the HTTP server exposing them.
type Server struct {
	E        *echo.Echo
	Cfg      *config.Config
	Hub      *gateway.Hub
	Gateway  *gateway.Gateway
	Registry *presence.Registry
	Tracker  *delivery.Tracker
	Limiter  ratelimit.Limiter
	PubSub   *pubsub.WatermillBridge
	Activity *activity.Recorder

	redis          *redis.Client
	shutdownTracer func(context.Context) error
	cancel         context.CancelFunc
	startedAt      time.Time
	logger         *slog.Logger
}

// New builds every service from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{
		Cfg:      cfg,
		Hub:      gateway.NewHub(),
		Registry: presence.NewRegistry(),
		Tracker:  delivery.NewTracker(cfg.DeliveryTimeout),
		logger:   slog.Default().With("component", "server"),
	}

	// Tracing first, so the bus can be wrapped with it
	tracer, shutdownTracer, err := pubsub.SetupOTel(ctx, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	s.shutdownTracer = shutdownTracer
	if cfg.TracingEnabled {
		s.PubSub = pubsub.NewWatermillBridge(pubsub.WithTracer(tracer))
	} else {
		s.PubSub = pubsub.NewWatermillBridge()
	}
	s.Activity = activity.NewRecorder(s.PubSub)

	// Pick the rate limit backend
	switch cfg.RateBackend {
	case config.BackendRedis:
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			_ = s.redis.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		s.Limiter = ratelimit.NewRedis(s.redis, cfg.Rules(), "relay:ratelimit")
	default:
		s.Limiter = ratelimit.NewMemory(cfg.Rules())
	}

	// The gateway owns every protocol decision; the hub only fans out frames
	s.Gateway = gateway.New(gateway.Deps{
		Out:       s.Hub,
		Registry:  s.Registry,
		Limiter:   s.Limiter,
		Tracker:   s.Tracker,
		Sanitizer: protocol.NewSanitizer(cfg.Limits()),
		Bus:       s.PubSub,
	}, gateway.WithTypingTTL(cfg.TypingTTL))

	// Setup Echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(appmiddleware.Logger)
	e.Use(appmiddleware.AccessLog)
	setupErrorHandling(e)
	s.E = e

	s.RegisterRoutes()
	return s, nil
}

// Start launches the background workers: the hub, the activity recorder, the
// delivery expiry loop and, for the in-memory limiter, the window sweeper.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = time.Now()

	if err := s.Activity.Start(ctx); err != nil {
		s.cancel()
		return err
	}

	// Run background workers until ctx is cancelled
	go s.Hub.Run(ctx)
	go s.Gateway.ExpireDeliveries(ctx, s.Cfg.DeliverySweepInterval)
	if mem, ok := s.Limiter.(*ratelimit.Memory); ok {
		go mem.Run(ctx, s.Cfg.RateSweepInterval)
	}

	s.logger.Info("Relay services started",
		"rate_backend", s.Cfg.RateBackend,
		"delivery_timeout", s.Cfg.DeliveryTimeout,
		"tracing", s.Cfg.TracingEnabled,
	)
	return nil
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
