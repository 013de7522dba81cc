package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/docproc/internal/chunker"
	"github.com/indexforge/docproc/pkg/types"
)

type fakeTaskQueue struct {
	tasks      map[types.Operation][]*types.Task
	completed  []completion
	claimCalls []types.Operation
}

type completion struct {
	taskID  int64
	status  types.TaskStatus
	message string
}

func (q *fakeTaskQueue) ClaimNext(ctx context.Context, op types.Operation) (*types.Task, error) {
	q.claimCalls = append(q.claimCalls, op)
	pending := q.tasks[op]
	if len(pending) == 0 {
		return nil, nil
	}
	task := pending[0]
	q.tasks[op] = pending[1:]
	return task, nil
}

func (q *fakeTaskQueue) Complete(ctx context.Context, taskID int64, status types.TaskStatus, message string) error {
	q.completed = append(q.completed, completion{taskID: taskID, status: status, message: message})
	return nil
}

type fakeDocStore struct {
	existing  map[uuid.UUID]bool
	created   []*types.Document
	chunkSets [][]*types.Chunk
	deleted   []uuid.UUID
}

func (s *fakeDocStore) Exists(ctx context.Context, docID uuid.UUID) (bool, error) {
	return s.existing[docID], nil
}

func (s *fakeDocStore) CreateDocumentAndChunks(ctx context.Context, doc *types.Document, chunks []*types.Chunk) error {
	s.created = append(s.created, doc)
	s.chunkSets = append(s.chunkSets, chunks)
	return nil
}

func (s *fakeDocStore) DeleteDocument(ctx context.Context, docID uuid.UUID) error {
	s.deleted = append(s.deleted, docID)
	return nil
}

type fakeObjectStore struct {
	content []byte
	err     error
	paths   []string
}

func (o *fakeObjectStore) Download(ctx context.Context, objectPath string) (string, error) {
	o.paths = append(o.paths, objectPath)
	if o.err != nil {
		return "", o.err
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("docproc-test-%s", uuid.NewString()))
	if err := os.WriteFile(path, o.content, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

type fakeGraph struct {
	relations []types.Relation
	deleted   []uuid.UUID
	deleteErr error
	addErr    error
}

func (g *fakeGraph) AddRelations(ctx context.Context, relations []types.Relation, tenantID, docID uuid.UUID) error {
	if g.addErr != nil {
		return g.addErr
	}
	g.relations = append(g.relations, relations...)
	return nil
}

func (g *fakeGraph) DeleteByDoc(ctx context.Context, docID, tenantID uuid.UUID) error {
	if g.deleteErr != nil {
		return g.deleteErr
	}
	g.deleted = append(g.deleted, docID)
	return nil
}

type fakeParser struct {
	blocks []types.Block
	props  map[string]any
	err    error
}

func (p *fakeParser) Parse(ctx context.Context, path string, docID uuid.UUID) ([]types.Block, map[string]any, error) {
	return p.blocks, p.props, p.err
}

// passthroughChunker emits one chunk per non-empty section.
type passthroughChunker struct{}

func (passthroughChunker) SplitDocument(sections []chunker.Section) []chunker.Chunk {
	var out []chunker.Chunk
	for _, s := range sections {
		if s.Text == "" {
			continue
		}
		out = append(out, chunker.Chunk{Text: s.Text, Meta: s.Meta, BlockType: "text"})
	}
	return out
}

func uploadFixture(graph GraphStore, parser *fakeParser) (*UploadWorker, *fakeTaskQueue, *fakeDocStore, *types.Task) {
	task := &types.Task{
		ID:       7,
		ItemUUID: uuid.New(),
		TenantID: uuid.New(),
		UserID:   uuid.New(),
		ItemName: "report.docx",
		S3Path:   "tenant/report.docx",
	}
	queue := &fakeTaskQueue{tasks: map[types.Operation][]*types.Task{types.OpCreated: {task}}}
	docs := &fakeDocStore{existing: map[uuid.UUID]bool{}}
	objects := &fakeObjectStore{content: []byte("payload")}
	w := NewUploadWorker(queue, docs, objects, graph, parser, passthroughChunker{}, 3, 0, testLogger())
	return w, queue, docs, task
}

func TestUploadWorkerIndexesDocument(t *testing.T) {
	parser := &fakeParser{
		blocks: []types.Block{
			{Type: types.BlockHeading, Level: 1, Text: "Введение"},
			{Type: types.BlockParagraph, Text: "Первый\nабзац."},
		},
		props: map[string]any{"title": "Отчёт", "author": "Иванов", "size_bytes": int64(4096)},
	}
	graph := &fakeGraph{}
	w, queue, docs, task := uploadFixture(graph, parser)

	w.handle(context.Background(), task)

	require.Len(t, queue.completed, 1)
	assert.Equal(t, types.TaskDone, queue.completed[0].status)
	assert.Equal(t, "saved document and 2 chunks", queue.completed[0].message)

	require.Len(t, docs.created, 1)
	doc := docs.created[0]
	assert.Equal(t, task.ItemUUID, doc.DocID)
	assert.Equal(t, "Отчёт", doc.Title)
	assert.Equal(t, "Иванов", doc.Author)

	chunks := docs.chunkSets[0]
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].ChunkID)
	assert.Equal(t, 2, chunks[1].ChunkID)
	assert.Equal(t, "Первый абзац.", chunks[1].Text)
	assert.Equal(t, []string{"Введение"}, chunks[1].ContextPath())

	// new chunks carry the persisted embedding version from the start, not
	// the schema default
	assert.Equal(t, 3, chunks[0].EmbeddingVersion)
	assert.Equal(t, 3, chunks[1].EmbeddingVersion)

	// graph enabled, so all three stages start pending
	status := chunks[0].Enrichment
	require.Len(t, status, 3)
	assert.Equal(t, types.StagePending, status[types.StageEmbedding].Status)
	assert.Equal(t, types.StagePending, status[types.StageRelations].Status)
}

func TestUploadWorkerWithoutGraphSkipsRelationStage(t *testing.T) {
	parser := &fakeParser{
		blocks: []types.Block{{Type: types.BlockParagraph, Text: "text"}},
		props:  map[string]any{},
	}
	w, queue, docs, task := uploadFixture(nil, parser)

	w.handle(context.Background(), task)

	require.Len(t, queue.completed, 1)
	assert.Equal(t, types.TaskDone, queue.completed[0].status)
	status := docs.chunkSets[0][0].Enrichment
	require.Len(t, status, 2)
	assert.NotContains(t, status, types.StageRelations)
}

func TestUploadWorkerReprocessCleansOldVersion(t *testing.T) {
	parser := &fakeParser{
		blocks: []types.Block{{Type: types.BlockParagraph, Text: "v2"}},
		props:  map[string]any{},
	}
	graph := &fakeGraph{}
	w, queue, docs, task := uploadFixture(graph, parser)
	docs.existing[task.ItemUUID] = true

	w.handle(context.Background(), task)

	assert.Equal(t, []uuid.UUID{task.ItemUUID}, graph.deleted)
	assert.Equal(t, []uuid.UUID{task.ItemUUID}, docs.deleted)
	require.Len(t, docs.created, 1)
	assert.Equal(t, types.TaskDone, queue.completed[0].status)
}

func TestUploadWorkerGraphCleanupFailureIsFatal(t *testing.T) {
	parser := &fakeParser{blocks: []types.Block{{Type: types.BlockParagraph, Text: "v2"}}}
	graph := &fakeGraph{deleteErr: errors.New("neo4j unreachable")}
	w, queue, docs, task := uploadFixture(graph, parser)
	docs.existing[task.ItemUUID] = true

	w.handle(context.Background(), task)

	require.Len(t, queue.completed, 1)
	assert.Equal(t, types.TaskFailed, queue.completed[0].status)
	assert.Contains(t, queue.completed[0].message, "neo4j unreachable")
	// relational rows untouched when the graph side could not be cleaned
	assert.Empty(t, docs.deleted)
	assert.Empty(t, docs.created)
}

func TestUploadWorkerFailsOnErrorBlock(t *testing.T) {
	parser := &fakeParser{
		blocks: []types.Block{{Type: types.BlockError, Text: "[docx parse error: corrupt archive]"}},
		props:  map[string]any{"size_bytes": int64(2048)},
	}
	w, queue, docs, task := uploadFixture(&fakeGraph{}, parser)

	w.handle(context.Background(), task)

	require.Len(t, queue.completed, 1)
	assert.Equal(t, types.TaskFailed, queue.completed[0].status)
	assert.Contains(t, queue.completed[0].message, "corrupt archive")
	assert.Empty(t, docs.created)
}

func TestUploadWorkerEmptySmallFileCompletes(t *testing.T) {
	parser := &fakeParser{blocks: nil, props: map[string]any{"size_bytes": int64(100)}}
	w, queue, docs, task := uploadFixture(&fakeGraph{}, parser)

	w.handle(context.Background(), task)

	require.Len(t, queue.completed, 1)
	assert.Equal(t, types.TaskDone, queue.completed[0].status)
	assert.Equal(t, "document is empty, nothing to index", queue.completed[0].message)
	assert.Empty(t, docs.created)
}

func TestUploadWorkerEmptyLargeFileFails(t *testing.T) {
	parser := &fakeParser{blocks: nil, props: map[string]any{"size_bytes": int64(emptyFileThreshold + 1)}}
	w, queue, _, task := uploadFixture(&fakeGraph{}, parser)

	w.handle(context.Background(), task)

	require.Len(t, queue.completed, 1)
	assert.Equal(t, types.TaskFailed, queue.completed[0].status)
	assert.Contains(t, queue.completed[0].message, "no content from non-empty file")
}

func TestUploadWorkerRejectsTaskWithoutPath(t *testing.T) {
	w, queue, _, task := uploadFixture(&fakeGraph{}, &fakeParser{})
	task.S3Path = ""

	w.handle(context.Background(), task)

	require.Len(t, queue.completed, 1)
	assert.Equal(t, types.TaskFailed, queue.completed[0].status)
	assert.Contains(t, queue.completed[0].message, "no s3_path")
}

func TestUploadWorkerClaimPrefersCreatedThenUpdated(t *testing.T) {
	updated := &types.Task{ID: 9, ItemUUID: uuid.New(), S3Path: "x"}
	queue := &fakeTaskQueue{tasks: map[types.Operation][]*types.Task{
		types.OpUpdated: {updated},
	}}
	w := NewUploadWorker(queue, &fakeDocStore{existing: map[uuid.UUID]bool{}}, &fakeObjectStore{},
		nil, &fakeParser{}, passthroughChunker{}, 1, 0, testLogger())

	task, err := w.claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, int64(9), task.ID)
	assert.Equal(t, []types.Operation{types.OpCreated, types.OpUpdated}, queue.claimCalls)
}
