// Package embedding produces vectors for chunk text. Two variants satisfy
// the same contract: a remote HTTP embedder (OpenAI-compatible or Ollama
// wire dialect) and a local embedder that manages a sidecar inference
// process. An adaptive batcher wraps either to survive out-of-memory
// conditions by shrinking the batch size.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Embedder converts texts into vectors. Implementations must return one
// vector per input text, in input order.
type Embedder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the vector width, discovered at startup.
	Dimension() int

	// ModelName identifies the model, part of the persisted embedding
	// identity.
	ModelName() string
}

// ErrOOM marks a batch that failed because the model ran out of memory.
var ErrOOM = errors.New("embedding: out of memory")

// oomMarkers are substrings that identify OOM failures reported as plain
// text by inference backends.
var oomMarkers = []string{
	"out of memory",
	"cuda out of memory",
	"oom",
	"insufficient memory",
}

// IsOOM reports whether an error represents an out-of-memory condition,
// either the sentinel or a backend message.
func IsOOM(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOOM) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range oomMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classifyError wraps backend errors so OOM conditions carry the sentinel.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if IsOOM(err) && !errors.Is(err, ErrOOM) {
		return fmt.Errorf("%w: %v", ErrOOM, err)
	}
	return err
}
