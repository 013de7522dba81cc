package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/docproc/pkg/types"
)

func deletionFixture(graph GraphStore) (*DeletionWorker, *fakeTaskQueue, *fakeDocStore, *types.Task) {
	task := &types.Task{ID: 3, ItemUUID: uuid.New(), TenantID: uuid.New()}
	queue := &fakeTaskQueue{tasks: map[types.Operation][]*types.Task{types.OpDeleted: {task}}}
	docs := &fakeDocStore{existing: map[uuid.UUID]bool{}}
	return NewDeletionWorker(queue, docs, graph, 0, testLogger()), queue, docs, task
}

func TestDeletionWorkerDeindexesDocument(t *testing.T) {
	graph := &fakeGraph{}
	w, queue, docs, task := deletionFixture(graph)

	w.handle(context.Background(), task)

	assert.Equal(t, []uuid.UUID{task.ItemUUID}, graph.deleted)
	assert.Equal(t, []uuid.UUID{task.ItemUUID}, docs.deleted)
	require.Len(t, queue.completed, 1)
	assert.Equal(t, types.TaskDone, queue.completed[0].status)
	assert.Equal(t, "document deindexed", queue.completed[0].message)
}

func TestDeletionWorkerGraphFailureKeepsRows(t *testing.T) {
	graph := &fakeGraph{deleteErr: errors.New("session expired")}
	w, queue, docs, task := deletionFixture(graph)

	w.handle(context.Background(), task)

	// graph is torn down first; a failure there must not delete the rows
	assert.Empty(t, docs.deleted)
	require.Len(t, queue.completed, 1)
	assert.Equal(t, types.TaskFailed, queue.completed[0].status)
	assert.Contains(t, queue.completed[0].message, "session expired")
}

func TestDeletionWorkerWithoutGraph(t *testing.T) {
	w, queue, docs, task := deletionFixture(nil)

	w.handle(context.Background(), task)

	assert.Equal(t, []uuid.UUID{task.ItemUUID}, docs.deleted)
	assert.Equal(t, types.TaskDone, queue.completed[0].status)
}
