package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomrelay/internal/connection"
	"github.com/nfrund/roomrelay/internal/middleware"
)

// Registry is the subset of the connection registry the bridge needs.
type Registry interface {
	Register(t connection.Transport) string
	Bind(id string, userID int64) error
	MarkDead(id string)
	Remove(id string)
}

// Dispatcher handles inbound frames and connection teardown.
type Dispatcher interface {
	Dispatch(ctx context.Context, connID string, data []byte)
	Disconnect(connID string)
}

// Options tunes the bridge.
type Options struct {
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
	OriginPatterns []string
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		SendBuffer:     256,
		PingInterval:   25 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadLimit:      64 << 10,
		OriginPatterns: []string{"*"},
	}
}

// Bridge upgrades HTTP requests to websocket connections, registers them and
// feeds their frames to a Dispatcher.
type Bridge struct {
	conns      Registry
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger
}

// NewBridge creates a Bridge.
func NewBridge(conns Registry, dispatcher Dispatcher, opts Options) *Bridge {
	defaults := DefaultOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaults.ReadLimit
	}
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = defaults.OriginPatterns
	}
	return &Bridge{
		conns:      conns,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     slog.Default().With("component", "websocket"),
	}
}

// Handler returns an echo.HandlerFunc that upgrades the request and serves
// the connection until it closes.
func (b *Bridge) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
			InsecureSkipVerify: slices.Contains(b.opts.OriginPatterns, "*"),
			OriginPatterns:     b.opts.OriginPatterns,
		})
		if err != nil {
			b.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
			return nil
		}
		conn.SetReadLimit(b.opts.ReadLimit)

		client := newClient(conn, b.opts.SendBuffer)
		id := b.conns.Register(client)
		client.ID = id

		if userID, ok := middleware.UserIDFromContext(c); ok {
			if err := b.conns.Bind(id, userID); err != nil {
				b.logger.Error("Failed to bind authenticated user", "connection_id", id, "error", err)
			}
		}

		logger := b.logger.With("connection_id", id, "remote_addr", c.RealIP())
		logger.Info("WebSocket connected")

		ctx, cancel := context.WithCancel(c.Request().Context())
		defer cancel()

		go client.writePump(ctx, b.opts.PingInterval, b.opts.WriteTimeout, func() {
			b.conns.MarkDead(id)
		})

		b.readPump(ctx, client, logger)

		b.conns.MarkDead(id)
		b.dispatcher.Disconnect(id)
		b.conns.Remove(id)
		_ = client.Close()
		logger.Info("WebSocket disconnected")
		return nil
	}
}

// readPump hands every inbound text frame to the dispatcher until the
// connection fails or closes.
func (b *Bridge) readPump(ctx context.Context, c *Client, logger *slog.Logger) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				logger.Debug("WebSocket closed by client", "status", status)
			case errors.Is(err, io.EOF) || errors.Is(err, context.Canceled):
			default:
				logger.Debug("WebSocket read error", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		b.dispatcher.Dispatch(ctx, c.ID, data)
	}
}
