package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/nfrund/roomrelay/internal/domain"
	"github.com/spf13/afero"
)

// FileSink appends chat messages as JSON lines, one file per chat, on any
// afero filesystem.
type FileSink struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// NewFileSink creates a FileSink rooted at dir.
func NewFileSink(fs afero.Fs, dir string) *FileSink {
	return &FileSink{fs: fs, dir: dir}
}

func (s *FileSink) path(chatID domain.RoomID) string {
	return filepath.Join(s.dir, url.PathEscape(chatID.String())+".jsonl")
}

// Save appends the message to its chat's file.
func (s *FileSink) Save(ctx context.Context, msg domain.Message) error {
	msg.Pending = false
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %d: %w", msg.ID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	f, err := s.fs.OpenFile(s.path(msg.ChatID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append message %d: %w", msg.ID, err)
	}
	return nil
}

// Recent returns up to limit of the newest stored messages of a chat, oldest
// first. A chat with no file has no messages.
func (s *FileSink) Recent(ctx context.Context, chatID domain.RoomID, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fs.Open(s.path(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var msgs []domain.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		var msg domain.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.path(chatID), err)
		}
		msgs = append(msgs, msg)
		if limit > 0 && len(msgs) > limit {
			msgs = msgs[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}
