package pubsub

import (
	"context"
)

// Message is the structure passed between components on the bus.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g. "chat.message.created").
	Topic string
	// UserID identifies the user who caused the message.
	UserID string
	// Payload is the JSON encoded event.
	Payload []byte
	// Metadata carries extra key/value context such as the room id.
	Metadata map[string]string
}

// Handler processes a received message. A returned error nacks the message.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber receives messages from the bus.
type Subscriber interface {
	// Subscribe starts delivering messages of topic to handler in the
	// background and returns once the subscription is active. Delivery stops
	// when ctx is cancelled or the subscriber is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// PubSub is a bus that can both publish and subscribe.
type PubSub interface {
	Publisher
	Subscriber
}
