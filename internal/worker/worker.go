// Package worker contains the long-running pipeline workers: upload,
// deletion, enrichment and migration, plus the supervisor that keeps them
// alive. Workers depend on small interfaces so tests run them against
// in-memory fakes.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/indexforge/docproc/internal/chunker"
	"github.com/indexforge/docproc/pkg/types"
)

// ObjectStore downloads source files for parsing.
type ObjectStore interface {
	// Download fetches an object to a local temp file and returns its
	// path. The caller owns cleanup.
	Download(ctx context.Context, objectPath string) (string, error)
}

// GraphStore persists extracted relations and tears down per-document
// subgraphs. A nil GraphStore disables relation handling entirely.
type GraphStore interface {
	AddRelations(ctx context.Context, relations []types.Relation, tenantID, docID uuid.UUID) error
	DeleteByDoc(ctx context.Context, docID, tenantID uuid.UUID) error
}

// DocumentParser turns a downloaded file into typed blocks.
type DocumentParser interface {
	Parse(ctx context.Context, path string, docID uuid.UUID) ([]types.Block, map[string]any, error)
}

// Chunker splits ordered sections into persistable chunks.
type Chunker interface {
	SplitDocument(sections []chunker.Section) []chunker.Chunk
}

// Embedder produces one vector per input text.
type Embedder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// sleepCtx waits for the duration or until the context is canceled,
// whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
