// Command docproc runs the document processing data plane: the upload,
// deletion and enrichment worker pools, or, when the embedding identity
// changed, a dedicated embedding migration run.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/indexforge/docproc/internal/chunker"
	"github.com/indexforge/docproc/internal/config"
	"github.com/indexforge/docproc/internal/embedding"
	"github.com/indexforge/docproc/internal/graph"
	"github.com/indexforge/docproc/internal/llm"
	"github.com/indexforge/docproc/internal/objectstore"
	"github.com/indexforge/docproc/internal/ocr"
	"github.com/indexforge/docproc/internal/parser"
	"github.com/indexforge/docproc/internal/server"
	"github.com/indexforge/docproc/internal/storage"
	"github.com/indexforge/docproc/internal/storage/postgres"
	"github.com/indexforge/docproc/internal/tokenizer"
	"github.com/indexforge/docproc/internal/worker"
	"github.com/indexforge/docproc/pkg/types"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The embedder comes up first: its probed dimension shapes the vector
	// column on a fresh database.
	embedder, err := embedding.New(ctx, cfg.Embedding, logger)
	if err != nil {
		return fmt.Errorf("embedding init: %w", err)
	}
	defer embedder.Close()
	logger.Info("embedder ready", "model", embedder.ModelName(), "dimension", embedder.Dimension())

	store, err := postgres.New(cfg.Database.DSN(), embedder.Dimension())
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	defer store.Close()

	objects, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:  cfg.Object.Endpoint,
		AccessKey: cfg.Object.AccessKey,
		SecretKey: cfg.Object.SecretKey,
		Bucket:    cfg.Object.Bucket,
		UseSSL:    cfg.Object.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("object store init: %w", err)
	}

	var graphStore *graph.Store
	if cfg.Graph.Active() {
		graphStore, err = graph.New(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password)
		if err != nil {
			return fmt.Errorf("graph init: %w", err)
		}
		defer graphStore.Close(context.Background())
	} else {
		logger.Info("graph store disabled, relation extraction will be skipped")
	}

	persisted, firstBoot, err := loadEmbeddingConfig(ctx, store)
	if err != nil {
		return err
	}
	if firstBoot {
		persisted = &types.EmbeddingConfig{
			ModelName: embedder.ModelName(),
			Dimension: embedder.Dimension(),
			Version:   1,
			Generator: cfg.Embedding.Generator,
		}
		if err := store.SaveEmbeddingConfig(ctx, persisted); err != nil {
			return fmt.Errorf("persist initial embedding config: %w", err)
		}
		logger.Info("first boot, recorded embedding config", "version", persisted.Version)
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		healthChecks(cfg, store, objects, graphStore), logger)
	if _, err := srv.Start(ctx); err != nil {
		return err
	}

	migrate, err := migrationNeeded(ctx, store, embedder, persisted, logger)
	if err != nil {
		return err
	}

	sup := worker.NewSupervisor(worker.DefaultSupervisorConfig(), logger)

	if migrate {
		// Migration runs alone: the steady-state pools stay parked until the
		// swap lands and the process restarts with the new identity.
		migrationWorker := worker.NewMigrationWorker(store, store, embedder,
			worker.MigrationConfig{
				BatchSize: cfg.Workers.MigrationBatchSize,
				Generator: cfg.Embedding.Generator,
			}, stop, logger)
		sup.Start(ctx, "migration", migrationWorker)
	} else {
		if err := startPool(ctx, sup, cfg, store, objects, graphStore, embedder, persisted.Version, logger); err != nil {
			return err
		}
	}

	<-ctx.Done()
	logger.Info("shutdown requested")
	sup.Wait()
	logger.Info("shutdown complete")
	return nil
}

// startPool wires and launches the steady-state workers.
func startPool(ctx context.Context, sup *worker.Supervisor, cfg *config.Config,
	store *postgres.Store, objects *objectstore.Client, graphStore *graph.Store,
	embedder *embedding.AdaptiveBatcher, embeddingVersion int, logger *slog.Logger) error {

	counter := tokenizer.NewTiktokenCounter(cfg.Chunker.Encoding)
	ch := chunker.New(chunker.Config{
		ChunkTokens:         cfg.Chunker.ChunkTokens,
		OverlapTokens:       cfg.Chunker.OverlapTokens,
		SectionLimit:        cfg.Chunker.SectionLimit,
		DocLimit:            cfg.Chunker.DocLimit,
		ListLimit:           cfg.Chunker.ListLimit,
		TableLimit:          cfg.Chunker.TableLimit,
		TableRowGroupTokens: cfg.Chunker.TableRowGroupTokens,
		TableRowOverlap:     cfg.Chunker.TableRowOverlap,
	}, counter)

	ocrBackend := ocr.New(cfg.OCR.Enabled, cfg.OCR.Backend, cfg.OCR.Lang)
	registry := parser.NewRegistry(parser.Config{
		ExcelRowBatchSize: cfg.Parser.ExcelRowBatchSize,
	}, ocrBackend, logger)

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm client init: %w", err)
	}
	executor := llm.NewExecutor(llmClient, store, logger)

	// a nil interface, not a typed nil, when the graph is disabled
	var gs worker.GraphStore
	if graphStore != nil {
		gs = graphStore
	}

	for i := 0; i < cfg.Workers.UploadWorkerCount; i++ {
		w := worker.NewUploadWorker(store, store, objects, gs, registry, ch,
			embeddingVersion, cfg.Workers.PollInterval, logger)
		sup.Start(ctx, fmt.Sprintf("upload-%d", i), w)
	}
	for i := 0; i < cfg.Workers.DeletionWorkerCount; i++ {
		w := worker.NewDeletionWorker(store, store, gs, cfg.Workers.PollInterval, logger)
		sup.Start(ctx, fmt.Sprintf("deletion-%d", i), w)
	}
	for i := 0; i < cfg.Workers.EnrichmentWorkerCount; i++ {
		w := worker.NewEnrichmentWorker(store, gs, embedder, executor, worker.EnrichmentConfig{
			EmbeddingBatchSize:  cfg.Embedding.BatchSize,
			EnrichmentBatchSize: cfg.Workers.EnrichmentBatchSize,
			LLMMaxConcurrency:   cfg.Workers.LLMMaxConcurrency,
			PollInterval:        cfg.Workers.PollInterval,
			EmbeddingVersion:    embeddingVersion,
		}, logger)
		sup.Start(ctx, fmt.Sprintf("enrichment-%d", i), w)
	}
	return nil
}

// loadEmbeddingConfig reads the persisted embedding identity. The bool
// result reports a first boot with no recorded config.
func loadEmbeddingConfig(ctx context.Context, settings storage.SettingsStore) (*types.EmbeddingConfig, bool, error) {
	cfg, err := settings.GetEmbeddingConfig(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("read embedding config: %w", err)
	}
	return cfg, false, nil
}

// migrationNeeded decides between migration mode and steady state. A
// changed model identity triggers a migration; a leftover side column
// means an interrupted one must be resumed first.
func migrationNeeded(ctx context.Context, store *postgres.Store,
	embedder *embedding.AdaptiveBatcher, persisted *types.EmbeddingConfig, logger *slog.Logger) (bool, error) {

	if persisted.ModelName != embedder.ModelName() || persisted.Dimension != embedder.Dimension() {
		logger.Warn("embedding identity changed, entering migration mode",
			"persisted_model", persisted.ModelName, "persisted_dimension", persisted.Dimension,
			"runtime_model", embedder.ModelName(), "runtime_dimension", embedder.Dimension())
		return true, nil
	}

	resume, err := store.HasSideColumn(ctx)
	if err != nil {
		return false, fmt.Errorf("inspect side column: %w", err)
	}
	if resume {
		logger.Warn("found interrupted embedding migration, resuming")
	}
	return resume, nil
}

func healthChecks(cfg *config.Config, store *postgres.Store,
	objects *objectstore.Client, graphStore *graph.Store) []server.Check {

	checks := []server.Check{
		{Name: "postgresql", Probe: store.Ping, Required: true},
		{Name: "minio", Probe: objects.Ping, Required: true},
	}

	neo4jCheck := server.Check{Name: "neo4j", Required: true}
	if graphStore != nil {
		neo4jCheck.Probe = graphStore.Ping
	}
	checks = append(checks, neo4jCheck)

	checks = append(checks, server.Check{
		Name:  "llm_service",
		Probe: server.HTTPProbe(cfg.LLM.APIBase),
	})

	embeddingCheck := server.Check{Name: "embedding"}
	if cfg.Embedding.Mode == "api" {
		embeddingCheck.Probe = server.HTTPProbe(cfg.Embedding.APIBase)
	} else {
		embeddingCheck.Probe = server.HTTPProbe(
			fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Embedding.LocalPort))
	}
	checks = append(checks, embeddingCheck)

	return checks
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
