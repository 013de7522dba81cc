package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/indexforge/docproc/internal/storage"
	"github.com/indexforge/docproc/pkg/types"
)

// EmbeddingDimension returns the declared dimension of the embedding
// column from the catalog.
func (s *Store) EmbeddingDimension(ctx context.Context) (int, error) {
	var typmod int
	err := s.db.QueryRowContext(ctx, `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = 'chunks'::regclass AND attname = 'embedding'`).Scan(&typmod)
	if err == sql.ErrNoRows {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to read embedding dimension: %w", err)
	}
	if typmod <= 0 {
		return 0, fmt.Errorf("postgres: embedding column has no declared dimension")
	}
	return typmod, nil
}

// PrepareSideColumn (re)creates embedding_new with the target dimension. A
// leftover column from an interrupted run is dropped first so the side
// column always matches the target.
func (s *Store) PrepareSideColumn(ctx context.Context, dimension int) error {
	if _, err := s.db.ExecContext(ctx, "ALTER TABLE chunks DROP COLUMN IF EXISTS embedding_new"); err != nil {
		return fmt.Errorf("postgres: failed to drop stale side column: %w", err)
	}
	query := fmt.Sprintf("ALTER TABLE chunks ADD COLUMN embedding_new vector(%d)", dimension)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgres: failed to add side column: %w", err)
	}
	return nil
}

// HasSideColumn reports whether embedding_new exists, which marks an
// interrupted migration.
func (s *Store) HasSideColumn(ctx context.Context) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM information_schema.columns
		WHERE table_name = 'chunks' AND column_name = 'embedding_new'`).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: failed to check side column: %w", err)
	}
	return true, nil
}

// NextMigrationBatch returns up to limit chunks still below the target
// version, in primary-key order.
func (s *Store) NextMigrationBatch(ctx context.Context, targetVersion, limit int) ([]*types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, chunk_id, tenant_id, text
		FROM chunks
		WHERE embedding_version < $1
		ORDER BY doc_id, chunk_id
		LIMIT $2`, targetVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to select migration batch: %w", err)
	}
	defer rows.Close()

	var chunks []*types.Chunk
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.DocID, &c.ChunkID, &c.TenantID, &c.Text); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan migration chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read migration batch: %w", err)
	}
	return chunks, nil
}

// WriteMigratedBatch bulk-writes new vectors into embedding_new and
// advances embedding_version so the batch is never selected again.
func (s *Store) WriteMigratedBatch(ctx context.Context, chunks []*types.Chunk, vectors [][]float32, targetVersion int) error {
	if len(chunks) == 0 || len(chunks) != len(vectors) {
		return fmt.Errorf("%w: chunk and vector counts must match and be non-empty", storage.ErrInvalidInput)
	}

	var (
		rows []string
		args []any
	)
	for i, c := range chunks {
		base := i * 3
		rows = append(rows, fmt.Sprintf("($%d::vector, $%d::uuid, $%d::int)", base+1, base+2, base+3))
		args = append(args, pgvector.NewVector(vectors[i]), c.DocID, c.ChunkID)
	}

	args = append(args, targetVersion)
	query := fmt.Sprintf(`
		UPDATE chunks SET
			embedding_new = data.embedding,
			embedding_version = $%d
		FROM (VALUES %s) AS data (embedding, doc_id, chunk_id)
		WHERE chunks.doc_id = data.doc_id AND chunks.chunk_id = data.chunk_id`,
		len(args), strings.Join(rows, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: failed to write migrated batch: %w", err)
	}
	return nil
}

// SwapEmbeddingColumn replaces embedding with embedding_new in a single
// transaction.
func (s *Store) SwapEmbeddingColumn(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin column swap: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "ALTER TABLE chunks DROP COLUMN embedding"); err != nil {
		return fmt.Errorf("postgres: failed to drop old embedding column: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "ALTER TABLE chunks RENAME COLUMN embedding_new TO embedding"); err != nil {
		return fmt.Errorf("postgres: failed to rename side column: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit column swap: %w", err)
	}
	return nil
}

// CountBelowVersion returns how many chunks still await migration.
func (s *Store) CountBelowVersion(ctx context.Context, targetVersion int) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE embedding_version < $1", targetVersion).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count unmigrated chunks: %w", err)
	}
	return n, nil
}
