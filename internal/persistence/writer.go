package persistence

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/nfrund/roomrelay/internal/domain"
	"github.com/nfrund/roomrelay/internal/pubsub"
)

// MessageCreated carries every accepted chat message to the writer.
var MessageCreated = pubsub.NewEvent[domain.Message]("chat.message.created")

// Sink stores messages durably.
type Sink interface {
	Save(ctx context.Context, msg domain.Message) error
}

// Confirmer clears the pending flag of a retained message.
type Confirmer interface {
	Confirm(roomID domain.RoomID, messageID int64) bool
}

// Observer is told about each persistence outcome.
type Observer interface {
	Persisted(ok bool)
}

// Writer drains MessageCreated into a Sink and confirms each stored message.
// A message whose save keeps failing stays pending.
type Writer struct {
	sub       pubsub.Subscriber
	sink      Sink
	confirmer Confirmer
	observer  Observer
	attempts  int
	backoff   time.Duration
	logger    *slog.Logger
}

// Option is a function that configures a Writer.
type Option func(*Writer)

// WithRetry sets how many times a save is attempted and the base delay
// between attempts, which grows linearly.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(w *Writer) {
		if attempts > 0 {
			w.attempts = attempts
		}
		w.backoff = backoff
	}
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(w *Writer) {
		w.observer = o
	}
}

// NewWriter creates a Writer.
func NewWriter(sub pubsub.Subscriber, sink Sink, confirmer Confirmer, opts ...Option) *Writer {
	w := &Writer{
		sub:       sub,
		sink:      sink,
		confirmer: confirmer,
		attempts:  3,
		backoff:   200 * time.Millisecond,
		logger:    slog.Default().With("component", "persistence"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start subscribes to MessageCreated. Messages are handled in the background
// until ctx is cancelled.
func (w *Writer) Start(ctx context.Context) error {
	return MessageCreated.Subscribe(ctx, w.sub, w.handle)
}

// Publish announces an accepted message to the writer.
func Publish(ctx context.Context, pub pubsub.Publisher, msg domain.Message) error {
	return MessageCreated.Publish(ctx, pub, strconv.FormatInt(msg.UserID, 10), msg, map[string]string{
		"room_id": msg.ChatID.String(),
	})
}

func (w *Writer) handle(ctx context.Context, msg domain.Message, _ pubsub.Message) error {
	var err error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err = w.sink.Save(ctx, msg); err == nil {
			break
		}
		w.logger.Warn("Failed to store message",
			"room_id", msg.ChatID,
			"message_id", msg.ID,
			"attempt", attempt,
			"error", err)
		if attempt < w.attempts {
			select {
			case <-time.After(time.Duration(attempt) * w.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if w.observer != nil {
		w.observer.Persisted(err == nil)
	}
	if err != nil {
		w.logger.Error("Giving up on message, leaving it pending", "room_id", msg.ChatID, "message_id", msg.ID)
		return nil
	}

	if !w.confirmer.Confirm(msg.ChatID, msg.ID) {
		w.logger.Debug("Stored message no longer buffered", "room_id", msg.ChatID, "message_id", msg.ID)
	}
	return nil
}
