package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/indexforge/docproc/internal/storage"
	"github.com/indexforge/docproc/pkg/types"
)

// ClaimNext atomically claims the oldest new task for the operation. The
// inner select uses FOR UPDATE SKIP LOCKED so concurrent claimers neither
// block nor double-claim.
func (s *Store) ClaimNext(ctx context.Context, op types.Operation) (*types.Task, error) {
	const query = `
		UPDATE knowledge_events SET status = 'processing'
		WHERE id = (
			SELECT id FROM knowledge_events
			WHERE status = 'new' AND operation = $1
			ORDER BY operation_time ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, item_uuid, tenant_id, user_id, operation, operation_time, item_name, item_type, size, s3_path`

	var (
		task   types.Task
		userID sql.NullString
		size   sql.NullInt64
		s3Path sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, string(op)).Scan(
		&task.ID, &task.ItemUUID, &task.TenantID, &userID,
		&task.Operation, &task.OperationTime, &task.ItemName, &task.ItemType,
		&size, &s3Path)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to claim task for %s: %w", op, err)
	}

	if userID.Valid {
		if id, err := uuid.Parse(userID.String); err == nil {
			task.UserID = id
		}
	}
	task.Size = size.Int64
	task.S3Path = s3Path.String
	task.Status = types.TaskProcessing
	return &task, nil
}

// Complete terminally transitions a task. Repeat calls overwrite the same
// terminal state, so the operation is idempotent.
func (s *Store) Complete(ctx context.Context, taskID int64, status types.TaskStatus, message string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE knowledge_events SET status = $1, content = $2 WHERE id = $3",
		string(status), message, taskID)
	if err != nil {
		return fmt.Errorf("postgres: failed to complete task %d: %w", taskID, err)
	}
	return nil
}

// ClaimPendingChunks flips up to batchSize chunks from pending to
// processing for the stage and returns them. Selection is ordered by the
// primary key so repeated sweeps walk the table deterministically.
func (s *Store) ClaimPendingChunks(ctx context.Context, stage string, batchSize int) ([]*types.Chunk, error) {
	status, err := json.Marshal(types.StageStatus{
		Status:    types.StageProcessing,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to marshal stage status: %w", err)
	}

	const query = `
		UPDATE chunks c
		SET enrichment_status = jsonb_set(c.enrichment_status, ARRAY[$1], $2::jsonb, true)
		FROM (
			SELECT ct.doc_id, ct.chunk_id
			FROM chunks ct
			WHERE ct.enrichment_status -> $1 ->> 'status' = 'pending'
			ORDER BY ct.doc_id, ct.chunk_id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) AS selected
		WHERE c.doc_id = selected.doc_id AND c.chunk_id = selected.chunk_id
		RETURNING c.doc_id, c.chunk_id, c.tenant_id, c.text`

	rows, err := s.db.QueryContext(ctx, query, stage, status, batchSize)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to claim chunks for stage %s: %w", stage, err)
	}
	defer rows.Close()

	var chunks []*types.Chunk
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.DocID, &c.ChunkID, &c.TenantID, &c.Text); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan claimed chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read claimed chunks: %w", err)
	}
	return chunks, nil
}

// UpdateChunkStage merges the stage outcome into enrichment_status. A
// non-nil result without an "error" key is additionally merged into the
// chunk metadata under llm_<stage>, in the same statement.
func (s *Store) UpdateChunkStage(ctx context.Context, docID uuid.UUID, chunkID int, stage string, status types.StageState, result map[string]any, errMsg string) error {
	statusObj, err := json.Marshal(types.StageStatus{
		Status:       status,
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
		ErrorMessage: errMsg,
	})
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal stage status: %w", err)
	}

	hasResult := false
	if result != nil {
		if _, isErr := result["error"]; !isErr {
			hasResult = true
		}
	}

	if hasResult {
		metaUpdate, err := json.Marshal(map[string]any{types.LLMResultKey(stage): result})
		if err != nil {
			return fmt.Errorf("postgres: failed to marshal stage result: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE chunks SET
				metadata = metadata || $1::jsonb,
				enrichment_status = jsonb_set(enrichment_status, ARRAY[$2], $3::jsonb, true)
			 WHERE doc_id = $4 AND chunk_id = $5`,
			metaUpdate, stage, statusObj, docID, chunkID)
		if err != nil {
			return fmt.Errorf("postgres: failed to update stage %s for chunk %s/%d: %w", stage, docID, chunkID, err)
		}
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE chunks SET enrichment_status = jsonb_set(enrichment_status, ARRAY[$1], $2::jsonb, true)
		 WHERE doc_id = $3 AND chunk_id = $4`,
		stage, statusObj, docID, chunkID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update stage %s for chunk %s/%d: %w", stage, docID, chunkID, err)
	}
	return nil
}

// BulkUpdateEmbeddings writes a batch of vectors and marks
// embedding_generation completed on every row in one statement.
func (s *Store) BulkUpdateEmbeddings(ctx context.Context, chunks []*types.Chunk, vectors [][]float32, version int) error {
	if len(chunks) == 0 || len(chunks) != len(vectors) {
		return fmt.Errorf("%w: chunk and vector counts must match and be non-empty", storage.ErrInvalidInput)
	}

	statusObj, err := json.Marshal(types.StageStatus{
		Status:    types.StageCompleted,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal stage status: %w", err)
	}

	var (
		rows []string
		args []any
	)
	for i, c := range chunks {
		base := i * 4
		rows = append(rows, fmt.Sprintf("($%d::vector, $%d::jsonb, $%d::uuid, $%d::int)",
			base+1, base+2, base+3, base+4))
		args = append(args, pgvector.NewVector(vectors[i]), statusObj, c.DocID, c.ChunkID)
	}

	args = append(args, version)
	query := fmt.Sprintf(`
		UPDATE chunks SET
			embedding = data.embedding,
			embedding_version = $%d,
			enrichment_status = jsonb_set(chunks.enrichment_status, '{embedding_generation}', data.status, true)
		FROM (VALUES %s) AS data (embedding, status, doc_id, chunk_id)
		WHERE chunks.doc_id = data.doc_id AND chunks.chunk_id = data.chunk_id`,
		len(args), strings.Join(rows, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: failed to bulk update embeddings: %w", err)
	}
	return nil
}
