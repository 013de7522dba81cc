package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/docproc/internal/storage"
	"github.com/indexforge/docproc/pkg/types"
)

type fakeMigrationStore struct {
	mu         sync.Mutex
	chunks     []*types.Chunk
	dimension  int
	sideColumn bool

	preparedDim int
	prepares    int
	swapped     bool
	writes      int
	onWrite     func()
}

func (s *fakeMigrationStore) EmbeddingDimension(ctx context.Context) (int, error) {
	return s.dimension, nil
}

func (s *fakeMigrationStore) PrepareSideColumn(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepares++
	s.preparedDim = dimension
	s.sideColumn = true
	return nil
}

func (s *fakeMigrationStore) HasSideColumn(ctx context.Context) (bool, error) {
	return s.sideColumn, nil
}

func (s *fakeMigrationStore) NextMigrationBatch(ctx context.Context, targetVersion, limit int) ([]*types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Chunk
	for _, c := range s.chunks {
		if c.EmbeddingVersion < targetVersion {
			out = append(out, c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeMigrationStore) WriteMigratedBatch(ctx context.Context, chunks []*types.Chunk, vectors [][]float32, targetVersion int) error {
	s.mu.Lock()
	s.writes++
	for _, c := range chunks {
		c.EmbeddingVersion = targetVersion
	}
	hook := s.onWrite
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (s *fakeMigrationStore) SwapEmbeddingColumn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapped = true
	s.sideColumn = false
	return nil
}

func (s *fakeMigrationStore) CountBelowVersion(ctx context.Context, targetVersion int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.chunks {
		if c.EmbeddingVersion < targetVersion {
			n++
		}
	}
	return n, nil
}

type fakeSettingsStore struct {
	cfg   *types.EmbeddingConfig
	saved *types.EmbeddingConfig
}

func (s *fakeSettingsStore) GetEmbeddingConfig(ctx context.Context) (*types.EmbeddingConfig, error) {
	if s.cfg == nil {
		return nil, storage.ErrNotFound
	}
	return s.cfg, nil
}

func (s *fakeSettingsStore) SaveEmbeddingConfig(ctx context.Context, cfg *types.EmbeddingConfig) error {
	s.saved = cfg
	return nil
}

type fakeMigrationEmbedder struct {
	dim   int
	model string
}

func (e fakeMigrationEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

func (e fakeMigrationEmbedder) Dimension() int    { return e.dim }
func (e fakeMigrationEmbedder) ModelName() string { return e.model }

func migrationChunks(n, version int) []*types.Chunk {
	docID := uuid.New()
	chunks := make([]*types.Chunk, n)
	for i := range chunks {
		chunks[i] = &types.Chunk{DocID: docID, ChunkID: i + 1, Text: "text", EmbeddingVersion: version}
	}
	return chunks
}

func TestMigrationRunsToCompletion(t *testing.T) {
	store := &fakeMigrationStore{chunks: migrationChunks(5, 1), dimension: 384}
	settings := &fakeSettingsStore{cfg: &types.EmbeddingConfig{ModelName: "old-model", Dimension: 384, Version: 1}}
	embedder := fakeMigrationEmbedder{dim: 1024, model: "new-model"}

	completed := false
	w := NewMigrationWorker(store, settings, embedder,
		MigrationConfig{BatchSize: 2, Generator: "service"}, func() { completed = true }, testLogger())

	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 1, store.prepares)
	assert.Equal(t, 1024, store.preparedDim)
	assert.Equal(t, 3, store.writes)
	assert.True(t, store.swapped)
	for _, c := range store.chunks {
		assert.Equal(t, 2, c.EmbeddingVersion)
	}

	require.NotNil(t, settings.saved)
	assert.Equal(t, "new-model", settings.saved.ModelName)
	assert.Equal(t, 1024, settings.saved.Dimension)
	assert.Equal(t, 2, settings.saved.Version)
	assert.Equal(t, "service", settings.saved.Generator)
	assert.True(t, completed)
}

func TestMigrationFirstRunTargetsVersionOne(t *testing.T) {
	store := &fakeMigrationStore{chunks: migrationChunks(1, 0), dimension: 384}
	settings := &fakeSettingsStore{}
	w := NewMigrationWorker(store, settings, fakeMigrationEmbedder{dim: 384, model: "m"},
		MigrationConfig{BatchSize: 10}, nil, testLogger())

	require.NoError(t, w.Run(context.Background()))

	require.NotNil(t, settings.saved)
	assert.Equal(t, 1, settings.saved.Version)
}

func TestMigrationResumeKeepsSideColumn(t *testing.T) {
	store := &fakeMigrationStore{dimension: 384, sideColumn: true}
	// two chunks already migrated by the interrupted run
	store.chunks = append(migrationChunks(2, 2), migrationChunks(3, 1)...)
	settings := &fakeSettingsStore{cfg: &types.EmbeddingConfig{Version: 1}}
	w := NewMigrationWorker(store, settings, fakeMigrationEmbedder{dim: 1024, model: "m"},
		MigrationConfig{BatchSize: 10}, nil, testLogger())

	require.NoError(t, w.Run(context.Background()))

	// the prepared column from the previous run must not be recreated
	assert.Zero(t, store.prepares)
	assert.Equal(t, 1, store.writes)
	assert.True(t, store.swapped)
}

func TestMigrationInterruptKeepsSideColumnForResume(t *testing.T) {
	store := &fakeMigrationStore{chunks: migrationChunks(6, 1), dimension: 384}
	settings := &fakeSettingsStore{cfg: &types.EmbeddingConfig{Version: 1}}

	ctx, cancel := context.WithCancel(context.Background())
	store.onWrite = cancel

	w := NewMigrationWorker(store, settings, fakeMigrationEmbedder{dim: 1024, model: "m"},
		MigrationConfig{BatchSize: 2}, nil, testLogger())

	require.NoError(t, w.Run(ctx))

	assert.Equal(t, 1, store.writes)
	assert.False(t, store.swapped)
	assert.True(t, store.sideColumn)
	assert.Nil(t, settings.saved)
}
