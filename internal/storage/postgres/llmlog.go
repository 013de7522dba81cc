package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/indexforge/docproc/pkg/types"
)

// LogRequest appends one LLM audit record. Callers treat failures as
// non-fatal; the error is returned only so they can log it.
func (s *Store) LogRequest(ctx context.Context, rec *types.LLMLogRecord) error {
	var tenantID, docID any
	if rec.TenantID != uuid.Nil {
		tenantID = rec.TenantID
	}
	if rec.DocID != uuid.Nil {
		docID = rec.DocID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_requests_log (
			request_timestamp_start, request_timestamp_end, duration_seconds,
			is_success, request_type, model_name, prompt, raw_response,
			error_message, prompt_tokens, completion_tokens,
			tenant_id, doc_id, chunk_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.Start, rec.End, rec.Duration,
		rec.Success, rec.RequestType, rec.Model, rec.Prompt, rec.RawResponse,
		rec.Error, rec.PromptTokens, rec.CompletionTokens,
		tenantID, docID, rec.ChunkID)
	if err != nil {
		return fmt.Errorf("postgres: failed to log LLM request: %w", err)
	}
	return nil
}
