package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Run starts the workers, serves HTTP on the configured address and blocks
// until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", "addr", s.Cfg.Addr)
		if err := s.E.Start(s.Cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
	}

	// Gracefully shutdown with a timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, closes every connection and releases
// external resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down")

	var errs []error
	if err := s.E.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	// Stopping the hub closes every websocket.
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.PubSub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("pubsub: %w", err))
	}
	if err := s.shutdownTracer(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
