package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/docproc/internal/llm"
	"github.com/indexforge/docproc/pkg/types"
)

type stageUpdate struct {
	chunkID int
	stage   string
	status  types.StageState
	result  map[string]any
	errMsg  string
}

type fakeEnrichmentQueue struct {
	mu      sync.Mutex
	pending map[string][]*types.Chunk
	updates []stageUpdate

	bulkChunks  []*types.Chunk
	bulkVectors [][]float32
	bulkVersion int
	bulkErr     error
}

func (q *fakeEnrichmentQueue) ClaimPendingChunks(ctx context.Context, stage string, batchSize int) ([]*types.Chunk, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	chunks := q.pending[stage]
	if len(chunks) > batchSize {
		chunks = chunks[:batchSize]
	}
	q.pending[stage] = q.pending[stage][len(chunks):]
	return chunks, nil
}

func (q *fakeEnrichmentQueue) UpdateChunkStage(ctx context.Context, docID uuid.UUID, chunkID int, stage string, status types.StageState, result map[string]any, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updates = append(q.updates, stageUpdate{chunkID: chunkID, stage: stage, status: status, result: result, errMsg: errMsg})
	return nil
}

func (q *fakeEnrichmentQueue) BulkUpdateEmbeddings(ctx context.Context, chunks []*types.Chunk, vectors [][]float32, version int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.bulkErr != nil {
		return q.bulkErr
	}
	q.bulkChunks = chunks
	q.bulkVectors = vectors
	q.bulkVersion = version
	return nil
}

func (q *fakeEnrichmentQueue) updatesFor(stage string) []stageUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []stageUpdate
	for _, u := range q.updates {
		if u.stage == stage {
			out = append(out, u)
		}
	}
	return out
}

type constEmbedder struct {
	dim int
	err error
}

func (e constEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

// fakeExecutor returns canned results keyed by the text block embedded in
// the user prompt.
type fakeExecutor struct {
	mu      sync.Mutex
	results map[string]any
	errs    map[string]error
	calls   []string
}

func (e *fakeExecutor) ExecuteJSON(ctx context.Context, systemPrompt, userPrompt, requestType string, cc llm.CallContext) (any, error) {
	e.mu.Lock()
	e.calls = append(e.calls, requestType)
	e.mu.Unlock()
	for key, err := range e.errs {
		if strings.Contains(userPrompt, key) {
			return nil, err
		}
	}
	for key, result := range e.results {
		if strings.Contains(userPrompt, key) {
			return result, nil
		}
	}
	return nil, errors.New("no canned result")
}

func enrichmentChunks(texts ...string) []*types.Chunk {
	docID, tenantID := uuid.New(), uuid.New()
	chunks := make([]*types.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &types.Chunk{DocID: docID, ChunkID: i + 1, TenantID: tenantID, Text: text}
	}
	return chunks
}

func TestEnrichmentEmbeddingBatchStoredAsUnit(t *testing.T) {
	queue := &fakeEnrichmentQueue{pending: map[string][]*types.Chunk{
		types.StageEmbedding: enrichmentChunks("a", "b", "c"),
	}}
	w := NewEnrichmentWorker(queue, nil, constEmbedder{dim: 4}, &fakeExecutor{},
		EnrichmentConfig{EmbeddingBatchSize: 10, EnrichmentBatchSize: 10, LLMMaxConcurrency: 2, EmbeddingVersion: 2}, testLogger())

	n, err := w.sweepStage(context.Background(), types.StageEmbedding)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, queue.bulkChunks, 3)
	require.Len(t, queue.bulkVectors, 3)
	assert.Equal(t, 2, queue.bulkVersion)
	assert.Empty(t, queue.updates)
}

func TestEnrichmentEmbeddingFailureMarksWholeBatch(t *testing.T) {
	queue := &fakeEnrichmentQueue{pending: map[string][]*types.Chunk{
		types.StageEmbedding: enrichmentChunks("a", "b"),
	}}
	w := NewEnrichmentWorker(queue, nil, constEmbedder{err: errors.New("service down")}, &fakeExecutor{},
		EnrichmentConfig{EmbeddingBatchSize: 10, EnrichmentBatchSize: 10, EmbeddingVersion: 1}, testLogger())

	_, err := w.sweepStage(context.Background(), types.StageEmbedding)
	require.NoError(t, err)

	updates := queue.updatesFor(types.StageEmbedding)
	require.Len(t, updates, 2)
	for _, u := range updates {
		assert.Equal(t, types.StageFailed, u.status)
		assert.Contains(t, u.errMsg, "service down")
	}
	assert.Empty(t, queue.bulkChunks)
}

func TestEnrichmentMetadataChunkFailureIsIsolated(t *testing.T) {
	queue := &fakeEnrichmentQueue{pending: map[string][]*types.Chunk{
		types.StageMetadata: enrichmentChunks("good text", "bad text", "also good"),
	}}
	executor := &fakeExecutor{
		results: map[string]any{
			"good text": map[string]any{"keywords": []any{"alpha"}},
			"also good": map[string]any{"keywords": []any{"beta"}},
		},
		errs: map[string]error{"bad text": errors.New("model timeout")},
	}
	w := NewEnrichmentWorker(queue, nil, constEmbedder{dim: 4}, executor,
		EnrichmentConfig{EmbeddingBatchSize: 10, EnrichmentBatchSize: 10, LLMMaxConcurrency: 2}, testLogger())

	n, err := w.sweepStage(context.Background(), types.StageMetadata)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	updates := queue.updatesFor(types.StageMetadata)
	require.Len(t, updates, 3)
	byChunk := map[int]stageUpdate{}
	for _, u := range updates {
		byChunk[u.chunkID] = u
	}
	assert.Equal(t, types.StageCompleted, byChunk[1].status)
	assert.Equal(t, map[string]any{"keywords": []any{"alpha"}}, byChunk[1].result)
	assert.Equal(t, types.StageFailed, byChunk[2].status)
	assert.Contains(t, byChunk[2].errMsg, "model timeout")
	assert.Equal(t, types.StageCompleted, byChunk[3].status)
}

func TestEnrichmentMetadataRejectsErrorResult(t *testing.T) {
	queue := &fakeEnrichmentQueue{pending: map[string][]*types.Chunk{
		types.StageMetadata: enrichmentChunks("mangled"),
	}}
	executor := &fakeExecutor{results: map[string]any{
		"mangled": map[string]any{"error": "json_parse_failed"},
	}}
	w := NewEnrichmentWorker(queue, nil, constEmbedder{dim: 4}, executor,
		EnrichmentConfig{EmbeddingBatchSize: 10, EnrichmentBatchSize: 10}, testLogger())

	_, err := w.sweepStage(context.Background(), types.StageMetadata)
	require.NoError(t, err)

	updates := queue.updatesFor(types.StageMetadata)
	require.Len(t, updates, 1)
	assert.Equal(t, types.StageFailed, updates[0].status)
}

func TestEnrichmentRelationsReachGraphBeforeCompletion(t *testing.T) {
	queue := &fakeEnrichmentQueue{pending: map[string][]*types.Chunk{
		types.StageRelations: enrichmentChunks("acme text"),
	}}
	executor := &fakeExecutor{results: map[string]any{
		"acme text": []any{
			map[string]any{
				"subject": "ACME", "subject_type": "ORGANIZATION",
				"relation": "LOCATED_IN", "object": "Берлин", "object_type": "LOCATION",
			},
		},
	}}
	graph := &fakeGraph{}
	w := NewEnrichmentWorker(queue, graph, constEmbedder{dim: 4}, executor,
		EnrichmentConfig{EmbeddingBatchSize: 10, EnrichmentBatchSize: 10}, testLogger())

	_, err := w.sweepStage(context.Background(), types.StageRelations)
	require.NoError(t, err)

	require.Len(t, graph.relations, 1)
	assert.Equal(t, "ACME", graph.relations[0].Subject)
	updates := queue.updatesFor(types.StageRelations)
	require.Len(t, updates, 1)
	assert.Equal(t, types.StageCompleted, updates[0].status)
}

func TestEnrichmentRelationsGraphWriteFailureLeavesChunkRetryable(t *testing.T) {
	queue := &fakeEnrichmentQueue{pending: map[string][]*types.Chunk{
		types.StageRelations: enrichmentChunks("acme text"),
	}}
	executor := &fakeExecutor{results: map[string]any{
		"acme text": []any{
			map[string]any{
				"subject": "ACME", "subject_type": "ORGANIZATION",
				"relation": "LOCATED_IN", "object": "Берлин", "object_type": "LOCATION",
			},
		},
	}}
	graph := &fakeGraph{addErr: errors.New("graph write refused")}
	w := NewEnrichmentWorker(queue, graph, constEmbedder{dim: 4}, executor,
		EnrichmentConfig{EmbeddingBatchSize: 10, EnrichmentBatchSize: 10}, testLogger())

	_, err := w.sweepStage(context.Background(), types.StageRelations)
	require.NoError(t, err)

	updates := queue.updatesFor(types.StageRelations)
	require.Len(t, updates, 1)
	assert.Equal(t, types.StageFailed, updates[0].status)
	assert.Contains(t, updates[0].errMsg, "graph write refused")
}

func TestEnrichmentStageListDependsOnGraph(t *testing.T) {
	base := EnrichmentConfig{EmbeddingBatchSize: 1, EnrichmentBatchSize: 1}
	withGraph := NewEnrichmentWorker(&fakeEnrichmentQueue{pending: map[string][]*types.Chunk{}},
		&fakeGraph{}, constEmbedder{}, &fakeExecutor{}, base, testLogger())
	withoutGraph := NewEnrichmentWorker(&fakeEnrichmentQueue{pending: map[string][]*types.Chunk{}},
		nil, constEmbedder{}, &fakeExecutor{}, base, testLogger())

	assert.Equal(t, []string{types.StageEmbedding, types.StageMetadata, types.StageRelations}, withGraph.stages())
	assert.Equal(t, []string{types.StageEmbedding, types.StageMetadata}, withoutGraph.stages())
}
