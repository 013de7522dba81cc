package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/indexforge/docproc/internal/config"
)

// New builds the configured embedder and wraps it in an adaptive batcher.
// Local mode spawns the sidecar process; api mode talks to a remote
// endpoint with the configured wire dialect.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *slog.Logger) (*AdaptiveBatcher, error) {
	var (
		inner Embedder
		err   error
	)

	switch cfg.Mode {
	case "api":
		inner, err = NewRemote(ctx, cfg.Generator, cfg.APIBase, cfg.ModelName, cfg.APITimeout)
	case "local":
		inner, err = NewLocal(ctx, LocalConfig{
			Command: cfg.LocalCommand,
			Port:    cfg.LocalPort,
			Device:  cfg.Device,
			Model:   cfg.ModelName,
			Timeout: cfg.APITimeout,
		}, logger)
	default:
		return nil, fmt.Errorf("embedding: unsupported mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	return NewAdaptiveBatcher(inner, cfg.BatchSize, logger), nil
}
