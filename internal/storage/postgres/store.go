// Package postgres provides the PostgreSQL implementation of the storage
// interfaces: documents, chunks, the task queue, enrichment claims, the
// settings table and the LLM audit log.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/indexforge/docproc/pkg/types"
)

// Store implements the storage interfaces on a shared connection pool.
type Store struct {
	db *sql.DB
}

// New opens a connection pool, enables pgvector and applies the idempotent
// base schema with the given embedding dimension.
func New(dsn string, dimension int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	// The pipeline cannot run without vector storage, so a missing
	// extension is fatal rather than a degraded mode.
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: pgvector extension unavailable: %w", err)
	}

	if _, err := db.Exec(Schema(dimension)); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool without applying the schema.
// Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies database liveness.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exists reports whether a document row is present.
func (s *Store) Exists(ctx context.Context, docID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE doc_id = $1", docID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: failed to check document %s: %w", docID, err)
	}
	return true, nil
}

// CreateDocumentAndChunks inserts the document row and all chunk rows in a
// single transaction. Chunks carry no embedding yet; enrichment stages are
// persisted as given.
func (s *Store) CreateDocumentAndChunks(ctx context.Context, doc *types.Document, chunks []*types.Chunk) error {
	docMeta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal document metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (doc_id, tenant_id, owner_user_id, filename, title, author, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.DocID, doc.TenantID, doc.OwnerUserID, doc.Filename, doc.Title, doc.Author, docMeta)
	if err != nil {
		return fmt.Errorf("postgres: failed to insert document %s: %w", doc.DocID, err)
	}

	if len(chunks) > 0 {
		var (
			placeholders []string
			args         []any
		)
		for i, c := range chunks {
			meta, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("postgres: failed to marshal chunk metadata: %w", err)
			}
			status, err := json.Marshal(c.Enrichment)
			if err != nil {
				return fmt.Errorf("postgres: failed to marshal enrichment status: %w", err)
			}
			base := i * 10
			placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10))
			args = append(args, c.DocID, c.ChunkID, c.TenantID, c.Section, c.Type, c.BlockType, c.Text, meta, status, c.EmbeddingVersion)
		}

		query := "INSERT INTO chunks (doc_id, chunk_id, tenant_id, section, type, block_type, text, metadata, enrichment_status, embedding_version) VALUES " +
			strings.Join(placeholders, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("postgres: failed to insert chunks for document %s: %w", doc.DocID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit document %s: %w", doc.DocID, err)
	}
	return nil
}

// DeleteDocument removes the document row; chunks go with it via cascade.
func (s *Store) DeleteDocument(ctx context.Context, docID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE doc_id = $1", docID); err != nil {
		return fmt.Errorf("postgres: failed to delete document %s: %w", docID, err)
	}
	return nil
}
