package chat

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomrelay/internal/domain"
	"github.com/nfrund/roomrelay/internal/middleware"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// History reads stored messages for rooms that are no longer live.
type History interface {
	Recent(ctx context.Context, chatID domain.RoomID, limit int) ([]domain.Message, error)
}

// Stats reports the relay's current size.
type Stats interface {
	Rooms() int
	Users() int
	Connections() int
}

// Recents reads the retained buffer of live rooms.
type Recents interface {
	Recent(id domain.RoomID, n int) ([]domain.Message, error)
}

// Sender accepts messages posted over HTTP.
type Sender interface {
	Post(ctx context.Context, req SendMessage) (domain.Message, error)
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Rooms       int `json:"rooms"`
	Users       int `json:"users"`
	Connections int `json:"connections"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status            string `json:"status"`
	ActiveConnections int    `json:"active_connections"`
}

// MessagesResponse is the body of GET /api/chat/messages.
type MessagesResponse struct {
	ChatID   domain.RoomID    `json:"chat_id"`
	Messages []domain.Message `json:"messages"`
}

// SendResponse is the body of a successful POST /api/chat/send.
type SendResponse struct {
	Success bool           `json:"success"`
	Message domain.Message `json:"message"`
}

// Handler holds dependencies for the chat module's HTTP handlers.
type Handler struct {
	stats   Stats
	recents Recents
	history History
	sender  Sender
}

// NewHandler creates a new chat handler. history may be nil.
func NewHandler(stats Stats, recents Recents, history History, sender Sender) *Handler {
	return &Handler{stats: stats, recents: recents, history: history, sender: sender}
}

// Status reports active rooms, distinct online users and live connections.
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Rooms:       h.stats.Rooms(),
		Users:       h.stats.Users(),
		Connections: h.stats.Connections(),
	})
}

// Health reports liveness along with the live connection count.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:            "ok",
		ActiveConnections: h.stats.Connections(),
	})
}

// Messages returns the most recent messages of a room, oldest first. Live
// rooms are served from their buffer; otherwise the message sink is asked.
func (h *Handler) Messages(c echo.Context) error {
	chatID := domain.RoomID(c.QueryParam("chat_id"))
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chat_id is required")
	}

	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxHistoryLimit)
	}

	messages, err := h.recents.Recent(chatID, limit)
	if errors.Is(err, domain.ErrNotFound) && h.history != nil {
		messages, err = h.history.Recent(c.Request().Context(), chatID, limit)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		middleware.FromContext(c.Request().Context()).Error("Failed to load messages", "room_id", chatID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load messages").SetInternal(err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	return c.JSON(http.StatusOK, MessagesResponse{ChatID: chatID, Messages: messages})
}

// Send posts a message to a room on behalf of a member, with the same
// validation and broadcast as send_message. The body is JSON with the
// send_message fields; file uploads are not accepted.
func (h *Handler) Send(c echo.Context) error {
	ctype := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(ctype, echo.MIMEApplicationJSON) {
		return echo.NewHTTPError(http.StatusBadRequest, "expected a JSON body with content or media_url; file uploads are not supported")
	}

	var req SendMessage
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message body").SetInternal(err)
	}
	if uid, ok := middleware.UserIDFromContext(c); ok && uid != req.UserID {
		return echo.NewHTTPError(http.StatusForbidden, "userId does not match the token")
	}

	msg, err := h.sender.Post(c.Request().Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrMalformed):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotMember):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		middleware.FromContext(c.Request().Context()).Error("Failed to send message", "room_id", req.ChatID, "user_id", req.UserID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to send message").SetInternal(err)
	}

	return c.JSON(http.StatusOK, SendResponse{Success: true, Message: msg})
}
