package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/nfrund/roomrelay/internal/config"
	"github.com/nfrund/roomrelay/internal/logging"
	"github.com/nfrund/roomrelay/internal/pubsub"
	"github.com/nfrund/roomrelay/internal/server"
	"github.com/spf13/afero"
)

func main() {
	cfg := config.New()
	logging.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := server.SignalContext(context.Background())
	defer stop()

	tracer, flushTraces, err := pubsub.SetupOTel(ctx, pubsub.LoadTracingConfigFromEnv())
	if err != nil {
		slog.Error("Failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer flushTraces()

	sink, closeSink, err := server.NewSink(ctx, cfg, afero.NewOsFs())
	if err != nil {
		slog.Error("Failed to open message sink", "sink", cfg.MessageSink, "error", err)
		os.Exit(1)
	}

	s, err := server.New(server.Dependencies{
		Config:     cfg,
		Sink:       sink,
		Tracer:     tracer,
		OnShutdown: []func() error{closeSink},
	})
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	if err := s.Start(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
