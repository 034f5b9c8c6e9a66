package domain

import (
	"slices"
	"sync"
	"time"
)

// MessageType tags the kind of content a message carries.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessagePhoto MessageType = "photo"
	MessageVoice MessageType = "voice"
	MessageVideo MessageType = "video"
	MessageFile  MessageType = "file"
)

var messageTypes = []MessageType{MessageText, MessagePhoto, MessageVoice, MessageVideo, MessageFile}

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	return slices.Contains(messageTypes, t)
}

// Mention targets a user from within a message.
type Mention struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Message is a chat message retained in a room's buffer. A message is never
// mutated after it is appended; confirming durable storage replaces the
// retained copy with one whose Pending flag is cleared.
type Message struct {
	ID        int64       `json:"id"`
	ChatID    RoomID      `json:"chat_id"`
	UserID    int64       `json:"user_id"`
	User      User        `json:"user"`
	Content   *string     `json:"content"`
	MediaURL  *string     `json:"media_url"`
	Type      MessageType `json:"type"`
	Mentions  []Mention   `json:"mentions"`
	CreatedAt time.Time   `json:"created_at"`
	Pending   bool        `json:"pending"`
}

// IDGenerator issues message ids derived from wall-clock milliseconds. Two
// calls never return the same value: when the clock has not advanced past the
// last issued id, the next id is last+1.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator returns a generator backed by time.Now.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns an id strictly greater than every id previously returned.
func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
