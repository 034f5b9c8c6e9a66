package server

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/roomrelay/internal/broadcast"
	"github.com/nfrund/roomrelay/internal/config"
	"github.com/nfrund/roomrelay/internal/connection"
	"github.com/nfrund/roomrelay/internal/metrics"
	appmiddleware "github.com/nfrund/roomrelay/internal/middleware"
	"github.com/nfrund/roomrelay/internal/module"
	"github.com/nfrund/roomrelay/internal/persistence"
	"github.com/nfrund/roomrelay/internal/presence"
	"github.com/nfrund/roomrelay/internal/pubsub"
	"github.com/nfrund/roomrelay/internal/registry"
	"github.com/nfrund/roomrelay/internal/rendering"
	"github.com/nfrund/roomrelay/internal/room"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Dependencies holds what the server cannot build from configuration alone.
type Dependencies struct {
	Config *config.Config
	// Sink stores accepted messages. Nil disables persistence.
	Sink persistence.Sink
	// Tracer traces bus traffic. Nil disables tracing.
	Tracer trace.Tracer
	// Modules defaults to AppModules().
	Modules []module.Module
	// OnShutdown runs after the HTTP server has stopped, e.g. to close the sink.
	OnShutdown []func() error
}

// Server holds the relay core, the echo instance and the modules mounted on it.
type Server struct {
	E        *echo.Echo
	Cfg      *config.Config
	Registry *registry.Registry
	Modules  []module.Module

	conns      *connection.Registry
	store      *room.Store
	presence   *presence.Service
	bus        pubsub.PubSub
	metrics    *metrics.Metrics
	prom       *prometheus.Registry
	renderer   rendering.Renderer
	onShutdown []func() error
	booted     bool
}

// New builds the relay core, publishes it in a fresh registry and sets up the
// echo instance. Modules are booted by InitModules or Start.
func New(deps Dependencies) (*Server, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}

	conns := connection.NewRegistry()
	store := room.NewStore(room.WithCapacity(cfg.HistoryCapacity))
	router := broadcast.NewRouter(conns, store)
	pres := presence.NewService(store, presence.NewIndex(), router, conns,
		presence.WithRejoinNoticeSuppressed(cfg.SuppressRejoinNotice))
	bus := pubsub.NewWatermillBridgeWithTracer(deps.Tracer)

	prom := prometheus.NewRegistry()
	met := metrics.New(prom, metrics.Source{
		Rooms:       store.Len,
		Users:       pres.UserCount,
		Connections: conns.LiveCount,
	})

	reg := registry.New(cfg)
	registry.Set(reg, registry.ConnectionsKey, conns)
	registry.Set(reg, registry.RoomsKey, store)
	registry.Set(reg, registry.PresenceKey, pres)
	registry.Set(reg, registry.RouterKey, router)
	registry.Set(reg, registry.PubSubKey, pubsub.PubSub(bus))
	registry.Set(reg, registry.MetricsKey, met)
	if deps.Sink != nil {
		registry.Set(reg, registry.SinkKey, deps.Sink)
	}

	modules := deps.Modules
	if modules == nil {
		modules = AppModules()
	}

	renderer := rendering.NewNodeRenderer()
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	setupErrorHandling(e)

	e.Use(echomw.RequestID())
	e.Use(appmiddleware.Logger)
	e.Use(echomw.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "relay",
		Registerer: prom,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}))

	s := &Server{
		E:          e,
		Cfg:        cfg,
		Registry:   reg,
		Modules:    modules,
		conns:      conns,
		store:      store,
		presence:   pres,
		bus:        bus,
		metrics:    met,
		prom:       prom,
		renderer:   renderer,
		onShutdown: deps.OnShutdown,
	}
	s.RegisterRoutes()
	return s, nil
}

// setupErrorHandling installs an error handler that answers with JSON and
// logs unexpected errors with a stack trace.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			if he.Internal != nil {
				slog.Warn("HTTP error",
					"status", he.Code,
					"path", c.Request().URL.Path,
					"error", he.Internal)
			}
			if c.Request().Method == http.MethodHead {
				_ = c.NoContent(he.Code)
				return
			}
			_ = c.JSON(he.Code, map[string]any{"message": he.Message})
			return
		}

		slog.Error("Internal Server Error (Unhandled)",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"error", err,
			"stack_trace", string(debug.Stack()))
		_ = c.JSON(http.StatusInternalServerError, map[string]any{"message": http.StatusText(http.StatusInternalServerError)})
	}
}
