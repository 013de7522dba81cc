package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder fails with OOM for any batch larger than maxBatch and
// records the batch sizes it was asked to handle.
type fakeEmbedder struct {
	maxBatch int
	batches  []int
	err      error
}

func (f *fakeEmbedder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, len(texts))
	if f.err != nil {
		return nil, f.err
	}
	if f.maxBatch > 0 && len(texts) > f.maxBatch {
		return nil, fmt.Errorf("backend: %w", ErrOOM)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text))}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return 1 }
func (f *fakeEmbedder) ModelName() string { return "fake" }

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("text-%d", i)
	}
	return out
}

func TestAdaptiveBatcherHappyPath(t *testing.T) {
	inner := &fakeEmbedder{}
	b := NewAdaptiveBatcher(inner, 4, nil)

	vectors, err := b.Encode(context.Background(), texts(10))
	require.NoError(t, err)
	assert.Len(t, vectors, 10)
	assert.Equal(t, []int{4, 4, 2}, inner.batches)
	assert.Equal(t, 4, b.BatchSize())
}

func TestAdaptiveBatcherShrinksOnOOM(t *testing.T) {
	inner := &fakeEmbedder{maxBatch: 2}
	b := NewAdaptiveBatcher(inner, 8, nil)

	vectors, err := b.Encode(context.Background(), texts(8))
	require.NoError(t, err)
	assert.Len(t, vectors, 8)

	// 8 fails, 4 fails, then 2 sticks for the rest of the input.
	assert.Equal(t, []int{8, 4, 2, 2, 2, 2}, inner.batches)
	assert.Equal(t, 2, b.BatchSize())
}

func TestAdaptiveBatcherRecoversAfterCleanCall(t *testing.T) {
	inner := &fakeEmbedder{maxBatch: 2}
	b := NewAdaptiveBatcher(inner, 8, nil)

	_, err := b.Encode(context.Background(), texts(4))
	require.NoError(t, err)
	require.Equal(t, 2, b.BatchSize())

	// Clean calls double the window back toward the configured size.
	inner.maxBatch = 0
	_, err = b.Encode(context.Background(), texts(2))
	require.NoError(t, err)
	assert.Equal(t, 4, b.BatchSize())

	_, err = b.Encode(context.Background(), texts(2))
	require.NoError(t, err)
	assert.Equal(t, 8, b.BatchSize())
}

func TestAdaptiveBatcherFailsAtBatchOfOne(t *testing.T) {
	inner := &fakeEmbedder{err: fmt.Errorf("backend: %w", ErrOOM)}
	b := NewAdaptiveBatcher(inner, 4, nil)

	_, err := b.Encode(context.Background(), texts(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOOM))
	assert.Contains(t, err.Error(), "batch of 1")
	assert.Equal(t, 1, b.BatchSize())
}

func TestAdaptiveBatcherPropagatesNonOOMErrors(t *testing.T) {
	inner := &fakeEmbedder{err: errors.New("connection refused")}
	b := NewAdaptiveBatcher(inner, 4, nil)

	_, err := b.Encode(context.Background(), texts(3))
	require.EqualError(t, err, "connection refused")
	assert.Equal(t, 4, b.BatchSize())
}

func TestAdaptiveBatcherEmptyInput(t *testing.T) {
	inner := &fakeEmbedder{}
	b := NewAdaptiveBatcher(inner, 4, nil)

	vectors, err := b.Encode(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Empty(t, inner.batches)
}
