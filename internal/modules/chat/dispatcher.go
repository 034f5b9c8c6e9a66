package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/roomrelay/internal/broadcast"
	"github.com/nfrund/roomrelay/internal/domain"
	"github.com/nfrund/roomrelay/internal/metrics"
	"github.com/nfrund/roomrelay/internal/persistence"
	"github.com/nfrund/roomrelay/internal/presence"
	"github.com/nfrund/roomrelay/internal/pubsub"
	"github.com/nfrund/roomrelay/internal/room"
	"github.com/nfrund/roomrelay/internal/websocket"
	"golang.org/x/text/unicode/norm"
)

// Connections is the subset of the connection registry the dispatcher needs.
type Connections interface {
	Bind(id string, userID int64) error
}

// handlerFunc handles the payload of one inbound event kind.
type handlerFunc func(ctx context.Context, connID string, payload json.RawMessage) error

// DispatcherDeps holds everything the Dispatcher needs to serve events.
type DispatcherDeps struct {
	Presence    *presence.Service
	Store       *room.Store
	Router      *broadcast.Router
	Connections Connections
	IDs         *domain.IDGenerator
	// Publisher announces accepted messages to the persistence writer. It
	// is nil when no message sink is configured.
	Publisher pubsub.Publisher
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Dispatcher routes inbound websocket frames to the handler registered for
// their event type. Failures are reported to the originating connection only.
type Dispatcher struct {
	presence  *presence.Service
	store     *room.Store
	router    *broadcast.Router
	conns     Connections
	ids       *domain.IDGenerator
	publisher pubsub.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
	validate  *validator.Validate
	handlers  map[string]handlerFunc
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher with the full inbound event table.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	d := &Dispatcher{
		presence:  deps.Presence,
		store:     deps.Store,
		router:    deps.Router,
		conns:     deps.Connections,
		ids:       deps.IDs,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		now:       deps.Now,
		validate:  newValidator(),
		logger:    slog.Default().With("component", "chat"),
	}
	if d.ids == nil {
		d.ids = domain.NewIDGenerator()
	}
	if d.now == nil {
		d.now = presence.Now
	}

	d.handlers = map[string]handlerFunc{
		EventJoinChat:    d.joinChat,
		EventLeaveChat:   d.leaveChat,
		EventSendMessage: d.sendMessage,
		EventTyping:      d.typing,
		EventReadMessage: d.readMessage,
		EventPing:        d.ping,
	}
	return d
}

// Events returns the inbound event types the dispatcher understands.
func (d *Dispatcher) Events() []string {
	events := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		events = append(events, name)
	}
	return events
}

// Dispatch decodes one frame and runs its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, data []byte) {
	frame, err := websocket.DecodeFrame(data)
	if err != nil {
		d.reject(connID, "", fmt.Errorf("%w: %v", domain.ErrMalformed, err))
		return
	}

	handle, ok := d.handlers[frame.Type]
	if !ok {
		d.reject(connID, frame.Type, fmt.Errorf("%w: unknown event type %q", domain.ErrMalformed, frame.Type))
		return
	}

	if err := handle(ctx, connID, frame.Payload); err != nil {
		d.reject(connID, frame.Type, err)
	}
}

// Disconnect removes a closed connection from every room it held.
func (d *Dispatcher) Disconnect(connID string) {
	if left := d.presence.Disconnect(connID); left > 0 {
		d.logger.Debug("Connection left rooms on disconnect", "connection_id", connID, "rooms", left)
	}
}

func (d *Dispatcher) joinChat(_ context.Context, connID string, raw json.RawMessage) error {
	var req JoinChat
	if err := d.decode(raw, &req); err != nil {
		return err
	}

	if err := d.conns.Bind(connID, req.UserID); err != nil {
		return err
	}

	res, err := d.presence.Join(req.ChatID, req.UserID, connID, req.UserData.Normalize(req.UserID))
	if err != nil {
		return err
	}
	if res.ReplacedPrior {
		d.logger.Debug("Join replaced prior connection",
			"room_id", req.ChatID,
			"user_id", req.UserID,
			"prior_connection_id", res.PriorConnID)
	}
	return nil
}

func (d *Dispatcher) leaveChat(_ context.Context, connID string, raw json.RawMessage) error {
	var req LeaveChat
	if err := d.decode(raw, &req); err != nil {
		return err
	}

	res, err := d.presence.LeaveConnection(req.ChatID, req.UserID, connID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err != nil || !res.Removed {
		return fmt.Errorf("chat %s: %w", req.ChatID, domain.ErrNotMember)
	}
	return nil
}

func (d *Dispatcher) sendMessage(ctx context.Context, connID string, raw json.RawMessage) error {
	var req SendMessage
	if err := d.decode(raw, &req); err != nil {
		return err
	}
	_, err := d.accept(ctx, req, onConn(connID))
	return err
}

// Post accepts a message that did not arrive over the sender's websocket, as
// from the HTTP send endpoint. The sender must currently be a member of the
// room on any connection. Rejections are counted but not pushed to any
// connection; the caller reports them.
func (d *Dispatcher) Post(ctx context.Context, req SendMessage) (domain.Message, error) {
	msg, err := d.postChecked(ctx, req)
	if err != nil {
		d.metrics.Rejected(rejectReason(err))
	}
	return msg, err
}

func (d *Dispatcher) postChecked(ctx context.Context, req SendMessage) (domain.Message, error) {
	if err := d.check(&req); err != nil {
		return domain.Message{}, err
	}
	return d.accept(ctx, req, func(room.Member) bool { return true })
}

// accept validates the message body, appends it to the room and broadcasts
// it when the sender's membership satisfies match. Accepted messages are
// handed to the persistence writer.
func (d *Dispatcher) accept(ctx context.Context, req SendMessage, match func(room.Member) bool) (domain.Message, error) {
	content := normalizeText(req.Content)
	mediaURL := nonEmpty(req.MediaURL)
	if content == nil && mediaURL == nil {
		return domain.Message{}, fmt.Errorf("%w: content or media_url is required", domain.ErrMalformed)
	}

	typ := req.Type
	switch {
	case typ == "" && content != nil:
		typ = domain.MessageText
	case typ == "":
		typ = domain.MessageFile
	case !typ.Valid():
		return domain.Message{}, fmt.Errorf("%w: unknown message type %q", domain.ErrMalformed, typ)
	}

	mentions := make([]domain.Mention, 0, len(req.Mentions))
	for _, m := range req.Mentions {
		m.Name = norm.NFC.String(m.Name)
		mentions = append(mentions, m)
	}

	var msg domain.Message
	err := d.withMember(req.ChatID, req.UserID, match, func(st *room.State, sender room.Member) error {
		// The id is drawn under the room lock so the buffer stays ordered by id.
		msg = domain.Message{
			ID:        d.ids.Next(),
			ChatID:    req.ChatID,
			UserID:    req.UserID,
			User:      sender.User,
			Content:   content,
			MediaURL:  mediaURL,
			Type:      typ,
			Mentions:  mentions,
			CreatedAt: d.now(),
			Pending:   true,
		}
		st.Append(msg)
		d.router.BroadcastMessage(st, msg, req.UserID, mentions)
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	d.metrics.MessageAccepted()

	if d.publisher != nil {
		if err := persistence.Publish(ctx, d.publisher, msg); err != nil {
			d.logger.Warn("Failed to hand message to persistence",
				"room_id", msg.ChatID,
				"message_id", msg.ID,
				"error", err)
		}
	}
	return msg, nil
}

func (d *Dispatcher) typing(_ context.Context, connID string, raw json.RawMessage) error {
	var req Typing
	if err := d.decode(raw, &req); err != nil {
		return err
	}

	return d.withMember(req.ChatID, req.UserID, onConn(connID), func(st *room.State, _ room.Member) error {
		at := d.now()
		st.SetTyping(req.UserID, req.IsTyping, at)
		d.router.Typing(st, req.UserID, req.IsTyping, at)
		return nil
	})
}

func (d *Dispatcher) readMessage(_ context.Context, connID string, raw json.RawMessage) error {
	var req ReadMessage
	if err := d.decode(raw, &req); err != nil {
		return err
	}

	return d.withMember(req.ChatID, req.UserID, onConn(connID), func(st *room.State, _ room.Member) error {
		d.router.Read(st, req.UserID, req.MessageID, d.now())
		return nil
	})
}

func (d *Dispatcher) ping(_ context.Context, connID string, _ json.RawMessage) error {
	d.router.Send(connID, websocket.NewMessage(broadcast.EventPong, broadcast.Pong{Timestamp: d.now()}))
	return nil
}

// withMember runs fn inside the room's critical section when the user is a
// member of the room and match accepts the membership.
func (d *Dispatcher) withMember(roomID domain.RoomID, userID int64, match func(room.Member) bool, fn func(*room.State, room.Member) error) error {
	err := d.store.Update(roomID, func(st *room.State) error {
		m, ok := st.Member(userID)
		if !ok || !match(m) {
			return fmt.Errorf("chat %s: %w", roomID, domain.ErrNotMember)
		}
		return fn(st, m)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("chat %s: %w", roomID, domain.ErrNotMember)
	}
	return err
}

// onConn matches the membership held by connID.
func onConn(connID string) func(room.Member) bool {
	return func(m room.Member) bool { return m.ConnID == connID }
}

func (d *Dispatcher) decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: missing payload", domain.ErrMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	return d.check(v)
}

// check validates a decoded request against its struct tags.
func (d *Dispatcher) check(v any) error {
	if err := d.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return fmt.Errorf("%w: missing required fields: %s", domain.ErrMalformed, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	return nil
}

// reject reports a failed event back to the sender only.
func (d *Dispatcher) reject(connID, eventType string, err error) {
	reason := rejectReason(err)
	d.metrics.Rejected(reason)

	message := err.Error()
	if reason == "internal" {
		d.logger.Error("Event handler failed", "connection_id", connID, "type", eventType, "error", err)
		message = "internal error"
	} else {
		d.logger.Debug("Event rejected", "connection_id", connID, "type", eventType, "reason", reason, "error", err)
	}

	d.router.Send(connID, websocket.NewMessage(broadcast.EventError, broadcast.Error{Message: message}))
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrMalformed):
		return "malformed"
	case errors.Is(err, domain.ErrNotMember):
		return "not_member"
	case errors.Is(err, domain.ErrUserMismatch):
		return "user_mismatch"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func normalizeText(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	n := norm.NFC.String(*s)
	return &n
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
