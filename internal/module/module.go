package module

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomrelay/internal/registry"
)

// Module defines the contract for a self-contained feature of the relay.
type Module interface {
	// Name returns a unique identifier for the module.
	Name() string

	// Register is called during startup, before any module boots, so the
	// module can publish its services in the registry.
	Register(reg *registry.Registry) error

	// Boot is called after every module has registered. Routes are mounted
	// and background tasks started here; they live until ctx is cancelled.
	Boot(ctx context.Context, router *echo.Group, reg *registry.Registry) error

	// Shutdown stops the module's background tasks during graceful shutdown.
	Shutdown(ctx context.Context) error
}

// BaseModule provides no-op implementations of the optional phases.
type BaseModule struct{}

func (m *BaseModule) Register(reg *registry.Registry) error { return nil }
func (m *BaseModule) Boot(ctx context.Context, router *echo.Group, reg *registry.Registry) error {
	return nil
}
func (m *BaseModule) Shutdown(ctx context.Context) error {
	return nil
}
