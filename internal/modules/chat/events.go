package chat

import (
	"github.com/nfrund/roomrelay/internal/domain"
)

// Inbound event types.
const (
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventReadMessage = "read_message"
	EventPing        = "ping"
)

// JoinChat asks to enter a room as the given user.
type JoinChat struct {
	ChatID   domain.RoomID `json:"chatId" validate:"required"`
	UserID   int64         `json:"userId" validate:"required"`
	UserData domain.User   `json:"userData"`
}

// LeaveChat asks to leave a room without closing the connection.
type LeaveChat struct {
	ChatID domain.RoomID `json:"chatId" validate:"required"`
	UserID int64         `json:"userId" validate:"required"`
}

// SendMessage posts a message to a room. At least one of Content and
// MediaURL must be non-empty.
type SendMessage struct {
	ChatID   domain.RoomID      `json:"chatId" validate:"required"`
	UserID   int64              `json:"userId" validate:"required"`
	Content  *string            `json:"content"`
	Type     domain.MessageType `json:"type"`
	MediaURL *string            `json:"media_url"`
	Mentions []domain.Mention   `json:"mentions"`
}

// Typing reports that a user started or stopped typing.
type Typing struct {
	ChatID   domain.RoomID `json:"chatId" validate:"required"`
	UserID   int64         `json:"userId" validate:"required"`
	IsTyping bool          `json:"isTyping"`
}

// ReadMessage reports that a user has read a message.
type ReadMessage struct {
	ChatID    domain.RoomID `json:"chatId" validate:"required"`
	UserID    int64         `json:"userId" validate:"required"`
	MessageID int64         `json:"messageId" validate:"required"`
}
