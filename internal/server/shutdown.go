package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Shutdown stops the modules in reverse boot order, closes every websocket,
// stops the HTTP server and releases the bus and the shutdown hooks.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down server")
	var errs []error

	for i := len(s.Modules) - 1; i >= 0; i-- {
		if err := s.Modules[i].Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown module %s: %w", s.Modules[i].Name(), err))
		}
	}

	// Hijacked websocket connections are not tracked by http.Server.
	s.conns.CloseAll()

	if err := s.E.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	for _, fn := range s.onShutdown {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
