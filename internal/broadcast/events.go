package broadcast

import (
	"time"

	"github.com/nfrund/roomrelay/internal/domain"
)

// Outbound event types.
const (
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventOnlineUpdate = "online_update"
	EventNewMessage   = "new_message"
	EventMention      = "mention"
	EventUserTyping   = "user_typing"
	EventMessageRead  = "message_read"
	EventPong         = "pong"
	EventError        = "error"
)

// TypingTTL is how long a typing indicator stays meaningful without a fresh
// typing event. Clients treat older indicators as expired.
const TypingTTL = 5 * time.Second

// UserJoined announces a new member to the rest of the room.
type UserJoined struct {
	UserID      int64       `json:"userId"`
	UserData    domain.User `json:"userData"`
	OnlineCount int         `json:"onlineCount"`
}

// UserLeft announces that a member left or was reaped.
type UserLeft struct {
	UserID      int64 `json:"userId"`
	OnlineCount int   `json:"onlineCount"`
}

// OnlineUpdate is the full member list sent to the room after every join and leave.
type OnlineUpdate struct {
	ChatID domain.RoomID `json:"chatId"`
	Users  []domain.User `json:"users"`
	Count  int           `json:"count"`
	Typing []int64       `json:"typing,omitempty"`
}

// MentionFrom identifies the sender of a mentioning message.
type MentionFrom struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
}

// Mention is sent only to a mentioned member's connection.
type Mention struct {
	MessageID int64         `json:"messageId"`
	ChatID    domain.RoomID `json:"chatId"`
	From      MentionFrom   `json:"from"`
	Content   *string       `json:"content"`
}

// UserTyping relays a typing indicator to the room, sender excluded.
type UserTyping struct {
	UserID    int64     `json:"userId"`
	IsTyping  bool      `json:"isTyping"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageRead relays a read receipt to the room, sender excluded.
type MessageRead struct {
	UserID    int64     `json:"userId"`
	MessageID int64     `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// Pong answers a client ping.
type Pong struct {
	Timestamp time.Time `json:"timestamp"`
}

// Error reports a rejected event to its sender only.
type Error struct {
	Message string `json:"message"`
}
