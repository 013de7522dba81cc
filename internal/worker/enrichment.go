package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/indexforge/docproc/internal/graph"
	"github.com/indexforge/docproc/internal/llm"
	"github.com/indexforge/docproc/internal/storage"
	"github.com/indexforge/docproc/pkg/types"
)

// LLMExecutor runs a prompt pair and returns the parsed JSON payload.
type LLMExecutor interface {
	ExecuteJSON(ctx context.Context, systemPrompt, userPrompt, requestType string, cc llm.CallContext) (any, error)
}

// EnrichmentConfig tunes the enrichment sweep.
type EnrichmentConfig struct {
	EmbeddingBatchSize  int           // chunks claimed per embedding cycle
	EnrichmentBatchSize int           // chunks claimed per LLM stage cycle
	LLMMaxConcurrency   int           // parallel LLM calls within a batch
	PollInterval        time.Duration // sleep after an empty cycle
	EmbeddingVersion    int           // version stamped on written embeddings
}

// EnrichmentWorker sweeps the enrichment stages in a fixed order each
// cycle. The embedding stage processes its batch as one unit; the LLM
// stages fan out per chunk under a bounded concurrency pool, and each
// chunk fails independently.
type EnrichmentWorker struct {
	queue    storage.EnrichmentQueue
	graph    GraphStore // nil disables the relation stage
	embedder Embedder
	executor LLMExecutor
	cfg      EnrichmentConfig
	logger   *slog.Logger
}

// NewEnrichmentWorker wires an enrichment worker. graph may be nil, which
// removes relation_extraction from the sweep.
func NewEnrichmentWorker(queue storage.EnrichmentQueue, g GraphStore, embedder Embedder,
	executor LLMExecutor, cfg EnrichmentConfig, logger *slog.Logger) *EnrichmentWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LLMMaxConcurrency < 1 {
		cfg.LLMMaxConcurrency = 1
	}
	return &EnrichmentWorker{queue: queue, graph: g, embedder: embedder, executor: executor, cfg: cfg, logger: logger}
}

func (w *EnrichmentWorker) stages() []string {
	stages := []string{types.StageEmbedding, types.StageMetadata}
	if w.graph != nil {
		stages = append(stages, types.StageRelations)
	}
	return stages
}

// Run sweeps stages until the context is canceled, sleeping after cycles
// that claimed nothing.
func (w *EnrichmentWorker) Run(ctx context.Context) error {
	w.logger.Info("worker: enrichment worker started", "stages", w.stages())
	for {
		if ctx.Err() != nil {
			return nil
		}

		processed := 0
		for _, stage := range w.stages() {
			if ctx.Err() != nil {
				return nil
			}
			n, err := w.sweepStage(ctx, stage)
			if err != nil {
				return fmt.Errorf("worker: enrichment sweep for %s failed: %w", stage, err)
			}
			processed += n
		}

		if processed == 0 {
			sleepCtx(ctx, w.cfg.PollInterval)
		}
	}
}

func (w *EnrichmentWorker) sweepStage(ctx context.Context, stage string) (int, error) {
	batchSize := w.cfg.EnrichmentBatchSize
	if stage == types.StageEmbedding {
		batchSize = w.cfg.EmbeddingBatchSize
	}

	chunks, err := w.queue.ClaimPendingChunks(ctx, stage, batchSize)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	if stage == types.StageEmbedding {
		w.processEmbeddingBatch(ctx, chunks)
	} else {
		w.processLLMBatch(ctx, stage, chunks)
	}
	return len(chunks), nil
}

// processEmbeddingBatch treats the batch as one unit: one Encode call,
// one bulk write, and on failure every row is marked failed.
func (w *EnrichmentWorker) processEmbeddingBatch(ctx context.Context, chunks []*types.Chunk) {
	logger := w.logger.With("stage", types.StageEmbedding, "batch_size", len(chunks),
		"doc_id", chunks[0].DocID, "tenant_id", chunks[0].TenantID)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := w.embedder.Encode(ctx, texts)
	if err == nil {
		err = w.queue.BulkUpdateEmbeddings(ctx, chunks, vectors, w.cfg.EmbeddingVersion)
	}
	if err != nil {
		logger.Warn("worker: embedding batch failed", "error", err)
		processingErrorsTotal.WithLabelValues("enrichment", types.StageEmbedding).Inc()
		w.failBatch(ctx, types.StageEmbedding, chunks, err)
		return
	}

	chunksEnrichedTotal.WithLabelValues("embedding").Add(float64(len(chunks)))
	logger.Info("worker: embedding batch stored")
}

func (w *EnrichmentWorker) failBatch(ctx context.Context, stage string, chunks []*types.Chunk, cause error) {
	for _, c := range chunks {
		if err := w.queue.UpdateChunkStage(ctx, c.DocID, c.ChunkID, stage, types.StageFailed, nil, cause.Error()); err != nil {
			w.logger.Error("worker: failed to mark chunk stage failed",
				"doc_id", c.DocID, "chunk_id", c.ChunkID, "stage", stage, "error", err)
		}
	}
}

// processLLMBatch fans chunks out to the LLM under the concurrency bound.
func (w *EnrichmentWorker) processLLMBatch(ctx context.Context, stage string, chunks []*types.Chunk) {
	sem := make(chan struct{}, w.cfg.LLMMaxConcurrency)
	var wg sync.WaitGroup
	for _, chunk := range chunks {
		wg.Add(1)
		go func(c *types.Chunk) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			w.processChunk(ctx, stage, c)
		}(chunk)
	}
	wg.Wait()
}

// processChunk runs one LLM stage for one chunk. Any failure is
// chunk-level: the stage is marked failed and the rest of the batch is
// unaffected.
func (w *EnrichmentWorker) processChunk(ctx context.Context, stage string, chunk *types.Chunk) {
	logger := w.logger.With("stage", stage, "doc_id", chunk.DocID,
		"chunk_id", chunk.ChunkID, "tenant_id", chunk.TenantID)

	var err error
	switch stage {
	case types.StageMetadata:
		err = w.extractMetadata(ctx, chunk)
	case types.StageRelations:
		err = w.extractRelations(ctx, chunk)
	default:
		err = fmt.Errorf("worker: unknown enrichment stage %q", stage)
	}

	if err != nil {
		logger.Warn("worker: chunk enrichment failed", "error", err)
		processingErrorsTotal.WithLabelValues("enrichment", stage).Inc()
		if uerr := w.queue.UpdateChunkStage(ctx, chunk.DocID, chunk.ChunkID, stage, types.StageFailed, nil, err.Error()); uerr != nil {
			logger.Error("worker: failed to record chunk failure", "error", uerr)
		}
	}
}

func (w *EnrichmentWorker) extractMetadata(ctx context.Context, chunk *types.Chunk) error {
	system, user := llm.MetadataPrompt(chunk.Text)
	result, err := w.executor.ExecuteJSON(ctx, system, user, "metadata_extraction", llm.CallContext{
		TenantID: chunk.TenantID, DocID: chunk.DocID, ChunkID: chunk.ChunkID,
	})
	if err != nil {
		return err
	}
	if llm.IsErrorResult(result) {
		return fmt.Errorf("worker: model returned unparseable metadata")
	}
	payload, ok := result.(map[string]any)
	if !ok {
		return fmt.Errorf("worker: metadata payload is not an object")
	}

	if err := w.queue.UpdateChunkStage(ctx, chunk.DocID, chunk.ChunkID,
		types.StageMetadata, types.StageCompleted, payload, ""); err != nil {
		return err
	}
	chunksEnrichedTotal.WithLabelValues("metadata").Inc()
	return nil
}

func (w *EnrichmentWorker) extractRelations(ctx context.Context, chunk *types.Chunk) error {
	system, user := llm.RelationsPrompt(chunk.Text)
	result, err := w.executor.ExecuteJSON(ctx, system, user, "relation_extraction", llm.CallContext{
		TenantID: chunk.TenantID, DocID: chunk.DocID, ChunkID: chunk.ChunkID,
	})
	if err != nil {
		return err
	}
	if llm.IsErrorResult(result) {
		return fmt.Errorf("worker: model returned unparseable relations")
	}

	items, ok := result.([]any)
	if !ok {
		return fmt.Errorf("worker: relations payload is not an array")
	}
	raw := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			raw = append(raw, m)
		}
	}

	// Relations land in the graph before the stage is marked completed, so
	// a graph write failure leaves the chunk retryable.
	relations := graph.SanitizeRelations(raw)
	if len(relations) > 0 && w.graph != nil {
		if err := w.graph.AddRelations(ctx, relations, chunk.TenantID, chunk.DocID); err != nil {
			return err
		}
	}

	if err := w.queue.UpdateChunkStage(ctx, chunk.DocID, chunk.ChunkID,
		types.StageRelations, types.StageCompleted, nil, ""); err != nil {
		return err
	}
	chunksEnrichedTotal.WithLabelValues("relations").Inc()
	return nil
}
