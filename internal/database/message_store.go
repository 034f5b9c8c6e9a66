package database

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nfrund/roomrelay/internal/domain"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// messageRecord is the stored shape of a chat message. Records are keyed by
// [chat_id, message_id] so redelivery of the same message is idempotent.
type messageRecord struct {
	MessageID int64                        `json:"message_id"`
	ChatID    string                       `json:"chat_id"`
	UserID    int64                        `json:"user_id"`
	User      domain.User                  `json:"user"`
	Content   *string                      `json:"content,omitempty"`
	MediaURL  *string                      `json:"media_url,omitempty"`
	Type      string                       `json:"type"`
	Mentions  []domain.Mention             `json:"mentions"`
	CreatedAt surrealmodels.CustomDateTime `json:"created_at"`
}

func toRecord(msg domain.Message) messageRecord {
	mentions := msg.Mentions
	if mentions == nil {
		mentions = []domain.Mention{}
	}
	return messageRecord{
		MessageID: msg.ID,
		ChatID:    msg.ChatID.String(),
		UserID:    msg.UserID,
		User:      msg.User,
		Content:   msg.Content,
		MediaURL:  msg.MediaURL,
		Type:      string(msg.Type),
		Mentions:  mentions,
		CreatedAt: surrealmodels.CustomDateTime{Time: msg.CreatedAt.UTC()},
	}
}

func (r messageRecord) toMessage() domain.Message {
	return domain.Message{
		ID:        r.MessageID,
		ChatID:    domain.RoomID(r.ChatID),
		UserID:    r.UserID,
		User:      r.User,
		Content:   r.Content,
		MediaURL:  r.MediaURL,
		Type:      domain.MessageType(r.Type),
		Mentions:  r.Mentions,
		CreatedAt: r.CreatedAt.Time,
	}
}

// MessageStore persists chat messages in SurrealDB.
type MessageStore struct {
	db *surrealdb.DB
}

// NewMessageStore creates a MessageStore.
func NewMessageStore(db *surrealdb.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Save writes a message durably. Saving the same message twice overwrites
// the first copy.
func (s *MessageStore) Save(ctx context.Context, msg domain.Message) error {
	query := "UPSERT type::thing('message', [$chat_id, $message_id]) CONTENT $data"
	params := map[string]any{
		"chat_id":    msg.ChatID.String(),
		"message_id": msg.ID,
		"data":       toRecord(msg),
	}
	if err := Execute(ctx, s.db, query, params); err != nil {
		return fmt.Errorf("save message %s/%s: %w", msg.ChatID, strconv.FormatInt(msg.ID, 10), err)
	}
	return nil
}

// Recent returns up to limit stored messages of a chat, oldest first.
func (s *MessageStore) Recent(ctx context.Context, chatID domain.RoomID, limit int) ([]domain.Message, error) {
	query := "SELECT * FROM message WHERE chat_id = $chat_id ORDER BY message_id DESC LIMIT $limit"
	rows, err := Query[messageRecord](ctx, s.db, query, map[string]any{
		"chat_id": chatID.String(),
		"limit":   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("load messages of %s: %w", chatID, err)
	}

	msgs := make([]domain.Message, len(rows))
	for i, row := range rows {
		msgs[len(rows)-1-i] = row.toMessage()
	}
	return msgs, nil
}

// Close closes the underlying connection.
func (s *MessageStore) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}
