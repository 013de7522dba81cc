package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/indexforge/docproc/internal/storage"
	"github.com/indexforge/docproc/pkg/types"
)

// MigrationEmbedder is the embedder surface the migration needs: encoding
// plus the identity of the new model being migrated to.
type MigrationEmbedder interface {
	Embedder
	Dimension() int
	ModelName() string
}

// MigrationConfig tunes the re-embedding loop.
type MigrationConfig struct {
	BatchSize int
	Generator string // persisted alongside the new model identity
}

// MigrationWorker re-embeds every chunk with the new model using a side
// column, then atomically swaps it into place and records the new config.
// The whole run happens while the steady-state workers are parked; when it
// finishes, onComplete asks the process to restart into normal operation.
type MigrationWorker struct {
	store      storage.MigrationStore
	settings   storage.SettingsStore
	embedder   MigrationEmbedder
	cfg        MigrationConfig
	onComplete func()
	logger     *slog.Logger
}

// NewMigrationWorker wires a migration worker. onComplete may be nil.
func NewMigrationWorker(store storage.MigrationStore, settings storage.SettingsStore,
	embedder MigrationEmbedder, cfg MigrationConfig, onComplete func(), logger *slog.Logger) *MigrationWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 128
	}
	return &MigrationWorker{store: store, settings: settings, embedder: embedder,
		cfg: cfg, onComplete: onComplete, logger: logger}
}

// Run executes the migration to completion. A canceled context stops the
// loop between batches and leaves the side column in place; the next start
// detects it and resumes where this run stopped.
func (w *MigrationWorker) Run(ctx context.Context) error {
	target, err := w.targetVersion(ctx)
	if err != nil {
		return err
	}

	logger := w.logger.With("target_version", target,
		"model", w.embedder.ModelName(), "dimension", w.embedder.Dimension())
	logger.Info("worker: embedding migration starting")

	resuming, err := w.store.HasSideColumn(ctx)
	if err != nil {
		return fmt.Errorf("worker: failed to inspect side column: %w", err)
	}
	if resuming {
		// The side column already holds vectors from an interrupted run.
		// Recreating it would throw that progress away.
		logger.Info("worker: resuming interrupted migration")
	} else {
		if err := w.store.PrepareSideColumn(ctx, w.embedder.Dimension()); err != nil {
			return fmt.Errorf("worker: failed to prepare side column: %w", err)
		}
	}

	start := time.Now()
	var migrated int64
	for {
		if ctx.Err() != nil {
			logger.Info("worker: migration interrupted, side column kept for resume",
				"migrated", migrated)
			return nil
		}

		chunks, err := w.store.NextMigrationBatch(ctx, target, w.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("worker: failed to load migration batch: %w", err)
		}
		if len(chunks) == 0 {
			break
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := w.embedder.Encode(ctx, texts)
		if err != nil {
			return fmt.Errorf("worker: failed to re-embed migration batch: %w", err)
		}
		if err := w.store.WriteMigratedBatch(ctx, chunks, vectors, target); err != nil {
			return fmt.Errorf("worker: failed to write migrated batch: %w", err)
		}
		migrated += int64(len(chunks))

		remaining, err := w.store.CountBelowVersion(ctx, target)
		if err != nil {
			return fmt.Errorf("worker: failed to count remaining chunks: %w", err)
		}
		logger.Info("worker: migration batch done", "migrated", migrated, "remaining", remaining)
	}

	if err := w.store.SwapEmbeddingColumn(ctx); err != nil {
		return fmt.Errorf("worker: failed to swap embedding column: %w", err)
	}
	if err := w.settings.SaveEmbeddingConfig(ctx, &types.EmbeddingConfig{
		ModelName: w.embedder.ModelName(),
		Dimension: w.embedder.Dimension(),
		Version:   target,
		Generator: w.cfg.Generator,
	}); err != nil {
		return fmt.Errorf("worker: failed to persist embedding config: %w", err)
	}

	logger.Info("worker: embedding migration finished",
		"migrated", migrated, "elapsed", time.Since(start))
	if w.onComplete != nil {
		w.onComplete()
	}
	return nil
}

// targetVersion is always the persisted version plus one. A database that
// never recorded a config starts from version zero, so the first migration
// writes version one.
func (w *MigrationWorker) targetVersion(ctx context.Context) (int, error) {
	cfg, err := w.settings.GetEmbeddingConfig(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 1, nil
		}
		return 0, fmt.Errorf("worker: failed to read embedding config: %w", err)
	}
	return cfg.Version + 1, nil
}
