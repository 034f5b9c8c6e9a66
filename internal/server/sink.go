package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nfrund/roomrelay/internal/config"
	"github.com/nfrund/roomrelay/internal/database"
	"github.com/nfrund/roomrelay/internal/persistence"
	"github.com/nfrund/roomrelay/internal/storage"
	"github.com/spf13/afero"
)

// NewSink opens the message sink selected by cfg.MessageSink. It returns a
// nil sink for config.SinkNone. The returned close function is never nil.
func NewSink(ctx context.Context, cfg *config.Config, fs afero.Fs) (persistence.Sink, func() error, error) {
	noop := func() error { return nil }

	switch cfg.MessageSink {
	case config.SinkNone, "":
		slog.Info("Message persistence disabled")
		return nil, noop, nil

	case config.SinkFile:
		if err := fs.MkdirAll(cfg.SinkDir, 0o755); err != nil {
			return nil, noop, fmt.Errorf("create sink dir: %w", err)
		}
		slog.Info("Persisting messages to files", "dir", cfg.SinkDir)
		return storage.NewFileSink(fs, cfg.SinkDir), noop, nil

	case config.SinkSurreal:
		db, err := database.NewDB(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		store := database.NewMessageStore(db)
		closeStore := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return store.Close(ctx)
		}
		return store, closeStore, nil

	default:
		return nil, noop, fmt.Errorf("unknown message sink %q", cfg.MessageSink)
	}
}
