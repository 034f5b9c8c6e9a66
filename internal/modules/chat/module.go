package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomrelay/internal/connection"
	"github.com/nfrund/roomrelay/internal/middleware"
	"github.com/nfrund/roomrelay/internal/module"
	"github.com/nfrund/roomrelay/internal/persistence"
	"github.com/nfrund/roomrelay/internal/presence"
	"github.com/nfrund/roomrelay/internal/reaper"
	"github.com/nfrund/roomrelay/internal/registry"
	"github.com/nfrund/roomrelay/internal/room"
	"github.com/nfrund/roomrelay/internal/websocket"
)

// ChatModule implements the module.Module interface for the relay: the
// websocket endpoint, its event dispatcher, the HTTP read API, the reaper and
// the persistence writer.
type ChatModule struct {
	module.BaseModule
	dispatcher *Dispatcher
	reaper     *reaper.Reaper
	writer     *persistence.Writer
}

// New creates a new instance of the ChatModule.
func New() *ChatModule {
	return &ChatModule{}
}

// Name returns the module name.
func (m *ChatModule) Name() string {
	return "chat"
}

// Dispatcher returns the event dispatcher once the module has booted.
func (m *ChatModule) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// Reaper returns the reaper once the module has booted.
func (m *ChatModule) Reaper() *reaper.Reaper {
	return m.reaper
}

// Boot wires the relay services from the registry, mounts the routes and
// starts the background tasks. Background tasks run until ctx is cancelled
// or Shutdown is called.
func (m *ChatModule) Boot(ctx context.Context, g *echo.Group, reg *registry.Registry) error {
	cfg := reg.Config()
	conns := registry.MustGet(reg, registry.ConnectionsKey)
	store := registry.MustGet(reg, registry.RoomsKey)
	pres := registry.MustGet(reg, registry.PresenceKey)
	router := registry.MustGet(reg, registry.RouterKey)
	bus := registry.MustGet(reg, registry.PubSubKey)
	met, _ := registry.Get(reg, registry.MetricsKey)

	deps := DispatcherDeps{
		Presence:    pres,
		Store:       store,
		Router:      router,
		Connections: conns,
		Metrics:     met,
	}

	var history History
	if sink, ok := registry.Get(reg, registry.SinkKey); ok && sink != nil {
		m.writer = persistence.NewWriter(bus, sink, store, persistence.WithObserver(met))
		if err := m.writer.Start(ctx); err != nil {
			return fmt.Errorf("start persistence writer: %w", err)
		}
		deps.Publisher = bus
		history, _ = sink.(History)
	}

	m.dispatcher = NewDispatcher(deps)

	// --- Register HTTP Handlers ---
	slog.Info("Booting ChatModule: Setting up routes...")
	bridge := websocket.NewBridge(conns, m.dispatcher, websocket.Options{
		SendBuffer:     cfg.SendBuffer,
		PingInterval:   cfg.PingInterval,
		OriginPatterns: cfg.AllowedOrigins,
	})
	g.GET("/ws", bridge.Handler(), middleware.Identity(cfg.JWTSecret))

	handler := NewHandler(NewStats(store, pres, conns), store, history, m.dispatcher)
	api := g.Group("/api")
	api.GET("/status", handler.Status)
	api.GET("/health", handler.Health)
	api.GET("/chat/messages", handler.Messages, middleware.RateLimiter(cfg.ReadRateLimit))
	api.POST("/chat/send", handler.Send, middleware.Identity(cfg.JWTSecret))

	// --- Start Background Services ---
	m.reaper = reaper.New(store, pres, conns,
		reaper.WithInterval(cfg.ReapInterval),
		reaper.WithObserver(met))
	m.reaper.Start(ctx)

	return nil
}

// Shutdown stops the reaper. The persistence subscription ends with the bus.
func (m *ChatModule) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down ChatModule...")
	if m.reaper != nil {
		m.reaper.Stop()
	}
	return nil
}

// NewStats reports relay sizes from the core services.
func NewStats(store *room.Store, pres *presence.Service, conns *connection.Registry) Stats {
	return stats{store: store, presence: pres, conns: conns}
}

type stats struct {
	store    *room.Store
	presence *presence.Service
	conns    *connection.Registry
}

func (s stats) Rooms() int       { return s.store.Len() }
func (s stats) Users() int       { return s.presence.UserCount() }
func (s stats) Connections() int { return s.conns.LiveCount() }
