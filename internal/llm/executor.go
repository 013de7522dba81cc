package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/indexforge/docproc/internal/storage"
	"github.com/indexforge/docproc/pkg/types"
)

// CallContext ties an LLM call to the chunk it enriches, for the audit
// log.
type CallContext struct {
	TenantID uuid.UUID
	DocID    uuid.UUID
	ChunkID  int
}

// Executor runs prompt pairs through a client and records every call in
// the audit log. Audit failures are logged and swallowed; they must never
// fail an enrichment stage.
type Executor struct {
	client Client
	audit  storage.LLMLogStore
	logger *slog.Logger
}

// NewExecutor creates an executor. audit may be nil to disable logging.
func NewExecutor(client Client, audit storage.LLMLogStore, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, audit: audit, logger: logger}
}

// Model returns the underlying client's model name.
func (e *Executor) Model() string { return e.client.Model() }

// ExecuteJSON generates a completion and parses its structured payload.
// Transport and provider errors are returned as errors; a response that
// arrived but failed parsing is returned as an error map (IsErrorResult)
// so the caller can persist it as a chunk-level failure.
func (e *Executor) ExecuteJSON(ctx context.Context, systemPrompt, userPrompt, requestType string, cc CallContext) (any, error) {
	rec := &types.LLMLogRecord{
		Start:       time.Now().UTC(),
		RequestType: requestType,
		Model:       e.client.Model(),
		Prompt:      userPrompt,
		TenantID:    cc.TenantID,
		DocID:       cc.DocID,
		ChunkID:     cc.ChunkID,
	}

	result, err := e.client.Generate(ctx, systemPrompt, userPrompt)

	rec.End = time.Now().UTC()
	rec.Duration = rec.End.Sub(rec.Start).Seconds()

	if err != nil {
		rec.Success = false
		rec.Error = err.Error()
		e.logRecord(ctx, rec)
		return nil, err
	}

	rec.Success = true
	rec.RawResponse = result.Content
	rec.PromptTokens = result.Usage.PromptTokens
	rec.CompletionTokens = result.Usage.CompletionTokens
	e.logRecord(ctx, rec)

	return ParseModelJSON(result.Content), nil
}

func (e *Executor) logRecord(ctx context.Context, rec *types.LLMLogRecord) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogRequest(ctx, rec); err != nil {
		e.logger.Error("llm: failed to write audit record",
			"request_type", rec.RequestType, "error", err)
	}
}
