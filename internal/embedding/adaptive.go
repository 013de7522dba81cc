package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// AdaptiveBatcher wraps an Embedder and manages the effective batch size.
// Input is encoded in windows of the current size; an OOM halves the
// window (floor 1) and retries, and each fully successful Encode call
// grows the window back toward the configured size. An OOM at size 1 is a
// hard failure.
type AdaptiveBatcher struct {
	inner      Embedder
	configured int
	logger     *slog.Logger

	mu      sync.Mutex
	current int
}

// NewAdaptiveBatcher wraps inner with the configured batch size.
func NewAdaptiveBatcher(inner Embedder, batchSize int, logger *slog.Logger) *AdaptiveBatcher {
	if batchSize < 1 {
		batchSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdaptiveBatcher{inner: inner, configured: batchSize, logger: logger, current: batchSize}
}

// Dimension proxies to the wrapped embedder.
func (a *AdaptiveBatcher) Dimension() int { return a.inner.Dimension() }

// ModelName proxies to the wrapped embedder.
func (a *AdaptiveBatcher) ModelName() string { return a.inner.ModelName() }

// Close releases the wrapped embedder when it holds resources, such as
// the local sidecar process.
func (a *AdaptiveBatcher) Close() error {
	if c, ok := a.inner.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// BatchSize returns the current effective batch size.
func (a *AdaptiveBatcher) BatchSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Encode produces vectors for all texts, shrinking the window on OOM.
func (a *AdaptiveBatcher) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	sawOOM := false

	for start := 0; start < len(texts); {
		size := a.BatchSize()
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := a.inner.Encode(ctx, texts[start:end])
		if err != nil {
			if !IsOOM(err) {
				return nil, err
			}
			sawOOM = true
			if size <= 1 {
				return nil, fmt.Errorf("embedding: batch of 1 still out of memory: %w", err)
			}
			a.shrink(size)
			continue
		}

		out = append(out, vectors...)
		start = end
	}

	if !sawOOM {
		a.recover()
	}
	return out, nil
}

func (a *AdaptiveBatcher) shrink(from int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current >= from {
		a.current = from / 2
		if a.current < 1 {
			a.current = 1
		}
		a.logger.Warn("embedding: batch out of memory, shrinking batch size",
			"from", from, "to", a.current)
	}
}

// recover grows the window one doubling per fully clean Encode call, so a
// backend that just survived an OOM is not immediately slammed with the
// full configured size.
func (a *AdaptiveBatcher) recover() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current < a.configured {
		a.current *= 2
		if a.current > a.configured {
			a.current = a.configured
		}
		a.logger.Info("embedding: recovering batch size", "to", a.current)
	}
}
