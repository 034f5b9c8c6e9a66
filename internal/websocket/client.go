package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/nfrund/roomrelay/internal/connection"
)

// ErrClientClosed is returned by Send after Close.
var ErrClientClosed = errors.New("client closed")

// Client is the server side of one websocket connection. It implements
// connection.Transport: Send enqueues without blocking and a single write
// pump drains the queue onto the socket.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, buffer int) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Send queues a frame for delivery.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return connection.ErrSendBufferFull
	}
}

// Close stops the write pump, which then closes the socket. It is safe to
// call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// writePump drains the send queue onto the socket and pings the peer every
// pingInterval. It returns on Close, on ctx cancellation, or on the first
// failed write or ping, after calling onFail.
func (c *Client) writePump(ctx context.Context, pingInterval, writeTimeout time.Duration, onFail func()) {
	var ping <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.done:
			c.conn.Close(websocket.StatusNormalClosure, "closing")
			return
		case <-ctx.Done():
			return
		case message := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				slog.Debug("WebSocket write error", "connection_id", c.ID, "error", err)
				onFail()
				c.conn.Close(websocket.StatusGoingAway, "write failed")
				return
			}
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				slog.Debug("WebSocket ping failed", "connection_id", c.ID, "error", err)
				onFail()
				c.conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}
