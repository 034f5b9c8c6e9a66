package broadcast

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/nfrund/roomrelay/internal/connection"
	"github.com/nfrund/roomrelay/internal/domain"
	"github.com/nfrund/roomrelay/internal/room"
	"github.com/nfrund/roomrelay/internal/websocket"
)

// Connections is the subset of the connection registry the router needs.
type Connections interface {
	IsAlive(id string) bool
	Resolve(id string) (connection.Transport, error)
	MarkDead(id string)
}

// Membership is a room's user to connection mapping as seen from inside the
// room's critical section.
type Membership interface {
	ConnectionFor(userID int64) (string, bool)
	Each(fn func(userID int64, connID string))
}

// Router computes recipients from room membership and pushes frames to their
// connections. Delivery is best effort: dead connections are skipped and a
// failed push marks the connection dead for the reaper to clean up.
type Router struct {
	conns  Connections
	store  *room.Store
	logger *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(conns Connections, store *room.Store) *Router {
	return &Router{
		conns:  conns,
		store:  store,
		logger: slog.Default().With("component", "broadcast"),
	}
}

// ToRoom delivers an event to every live member of a room.
func (r *Router) ToRoom(roomID domain.RoomID, msg websocket.Message) error {
	return r.store.Update(roomID, func(st *room.State) error {
		r.ToMembers(st, msg)
		return nil
	})
}

// ToUser delivers an event to a user's active connection in a room. A user
// who is not present is silently skipped.
func (r *Router) ToUser(roomID domain.RoomID, userID int64, msg websocket.Message) error {
	return r.store.Update(roomID, func(st *room.State) error {
		r.ToMember(st, userID, msg)
		return nil
	})
}

// ToMembers delivers an event to every member except the excluded users. It
// returns the number of successful deliveries.
func (r *Router) ToMembers(m Membership, msg websocket.Message, exclude ...int64) int {
	payload, err := msg.Encode()
	if err != nil {
		r.logger.Error("Failed to encode event", "type", msg.Type, "error", err)
		return 0
	}

	delivered := 0
	m.Each(func(userID int64, connID string) {
		if slices.Contains(exclude, userID) {
			return
		}
		if r.deliver(connID, payload) {
			delivered++
		}
	})
	return delivered
}

// ToMember delivers an event to one member's connection.
func (r *Router) ToMember(m Membership, userID int64, msg websocket.Message) bool {
	connID, ok := m.ConnectionFor(userID)
	if !ok {
		return false
	}
	return r.Send(connID, msg)
}

// Send delivers an event straight to a connection, member or not.
func (r *Router) Send(connID string, msg websocket.Message) bool {
	payload, err := msg.Encode()
	if err != nil {
		r.logger.Error("Failed to encode event", "type", msg.Type, "error", err)
		return false
	}
	return r.deliver(connID, payload)
}

// BroadcastMessage sends new_message to the whole room, then a mention event
// to each mentioned member other than the sender. Mentions of users who are
// not in the room are dropped.
func (r *Router) BroadcastMessage(m Membership, msg domain.Message, senderID int64, mentions []domain.Mention) {
	r.ToMembers(m, websocket.NewMessage(EventNewMessage, msg))

	notice := websocket.NewMessage(EventMention, Mention{
		MessageID: msg.ID,
		ChatID:    msg.ChatID,
		From:      MentionFrom{UserID: senderID, Name: msg.User.DisplayName()},
		Content:   msg.Content,
	})

	notified := make(map[int64]bool, len(mentions))
	for _, mention := range mentions {
		if mention.UserID == senderID || notified[mention.UserID] {
			continue
		}
		notified[mention.UserID] = true
		r.ToMember(m, mention.UserID, notice)
	}
}

// Typing relays a typing indicator to everyone but the typist.
func (r *Router) Typing(m Membership, userID int64, isTyping bool, at time.Time) {
	r.ToMembers(m, websocket.NewMessage(EventUserTyping, UserTyping{
		UserID:    userID,
		IsTyping:  isTyping,
		Timestamp: at,
	}), userID)
}

// Read relays a read receipt to everyone but the reader.
func (r *Router) Read(m Membership, userID, messageID int64, at time.Time) {
	r.ToMembers(m, websocket.NewMessage(EventMessageRead, MessageRead{
		UserID:    userID,
		MessageID: messageID,
		Timestamp: at,
	}), userID)
}

func (r *Router) deliver(connID string, payload []byte) bool {
	if !r.conns.IsAlive(connID) {
		return false
	}
	t, err := r.conns.Resolve(connID)
	if err != nil {
		// Closed between the liveness check and the lookup.
		return false
	}
	if err := t.Send(payload); err != nil {
		if errors.Is(err, connection.ErrSendBufferFull) {
			r.logger.Warn("Send buffer full, marking connection dead", "connection_id", connID)
		} else {
			r.logger.Debug("Delivery failed, marking connection dead", "connection_id", connID, "error", err)
		}
		r.conns.MarkDead(connID)
		return false
	}
	return true
}
