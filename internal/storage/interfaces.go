// Package storage provides composable storage interfaces for the document
// processing pipeline.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Workers depend only on
// the interfaces they use, which keeps them testable against fakes.
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/indexforge/docproc/pkg/types"
)

// DocumentStore provides document lifecycle operations. Documents own
// their chunks: deletion cascades.
type DocumentStore interface {
	// Exists reports whether a document row is present.
	Exists(ctx context.Context, docID uuid.UUID) (bool, error)

	// CreateDocumentAndChunks inserts the document row and all chunk rows
	// in a single transaction. Chunks are persisted without embeddings;
	// their enrichment status map must already carry the pending stages and
	// EmbeddingVersion the current persisted version.
	CreateDocumentAndChunks(ctx context.Context, doc *types.Document, chunks []*types.Chunk) error

	// DeleteDocument removes the document and, via cascade, its chunks.
	// Deleting an absent document is not an error.
	DeleteDocument(ctx context.Context, docID uuid.UUID) error
}

// TaskQueue provides claim/complete semantics over the knowledge_events
// table. Claims use skip-locked row locking so concurrent claimers never
// block and never receive the same row.
type TaskQueue interface {
	// ClaimNext atomically claims the oldest new task for the operation,
	// flipping its status to processing. Returns nil when the queue has no
	// claimable row.
	ClaimNext(ctx context.Context, op types.Operation) (*types.Task, error)

	// Complete terminally transitions a task to done or failed with an
	// optional message. Idempotent.
	Complete(ctx context.Context, taskID int64, status types.TaskStatus, message string) error
}

// EnrichmentQueue provides per-stage chunk claiming and status updates.
type EnrichmentQueue interface {
	// ClaimPendingChunks atomically flips up to batchSize chunks from
	// pending to processing for the stage and returns them. Rows are
	// selected in (doc_id, chunk_id) order with skip-locked semantics.
	ClaimPendingChunks(ctx context.Context, stage string, batchSize int) ([]*types.Chunk, error)

	// UpdateChunkStage merges the stage status into enrichment_status.
	// When result is non-nil and carries no "error" key it is additionally
	// merged into the chunk metadata under llm_<stage>.
	UpdateChunkStage(ctx context.Context, docID uuid.UUID, chunkID int, stage string, status types.StageState, result map[string]any, errMsg string) error

	// BulkUpdateEmbeddings writes a batch of vectors in one statement,
	// setting embedding_version and marking embedding_generation completed
	// on every row.
	BulkUpdateEmbeddings(ctx context.Context, chunks []*types.Chunk, vectors [][]float32, version int) error
}

// SettingsStore persists the process-wide embedding configuration.
type SettingsStore interface {
	// GetEmbeddingConfig returns the persisted config, or ErrNotFound when
	// none has been written yet.
	GetEmbeddingConfig(ctx context.Context) (*types.EmbeddingConfig, error)

	// SaveEmbeddingConfig upserts the config under its settings key.
	SaveEmbeddingConfig(ctx context.Context, cfg *types.EmbeddingConfig) error
}

// MigrationStore provides the side-column protocol for online embedding
// dimension changes.
type MigrationStore interface {
	// EmbeddingDimension returns the declared dimension of the embedding
	// column.
	EmbeddingDimension(ctx context.Context) (int, error)

	// PrepareSideColumn (re)creates embedding_new with the target
	// dimension, dropping any leftover from an interrupted run first.
	PrepareSideColumn(ctx context.Context, dimension int) error

	// HasSideColumn reports whether embedding_new exists, which marks an
	// interrupted migration to resume.
	HasSideColumn(ctx context.Context) (bool, error)

	// NextMigrationBatch returns up to limit chunks still below the target
	// version, in (doc_id, chunk_id) order.
	NextMigrationBatch(ctx context.Context, targetVersion, limit int) ([]*types.Chunk, error)

	// WriteMigratedBatch bulk-writes new vectors into embedding_new and
	// advances embedding_version for the given chunks.
	WriteMigratedBatch(ctx context.Context, chunks []*types.Chunk, vectors [][]float32, targetVersion int) error

	// SwapEmbeddingColumn drops the old embedding column and renames
	// embedding_new into its place, in a single transaction.
	SwapEmbeddingColumn(ctx context.Context) error

	// CountBelowVersion returns how many chunks still await migration.
	CountBelowVersion(ctx context.Context, targetVersion int) (int64, error)
}

// LLMLogStore appends audit records for LLM calls. Logging failures must
// never fail the calling operation.
type LLMLogStore interface {
	LogRequest(ctx context.Context, rec *types.LLMLogRecord) error
}

// Pinger reports backend liveness for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}
