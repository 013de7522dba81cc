package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Wire dialects for remote embedding endpoints.
const (
	// DialectService is the OpenAI-compatible batch endpoint
	// {base}/embeddings.
	DialectService = "service"

	// DialectOllama is the per-text endpoint {base}/api/embeddings.
	DialectOllama = "ollama"
)

const cacheSize = 4096

// Remote produces vectors over HTTP. Identical texts are served from an
// LRU cache; outbound calls go through a rate limiter so a large backlog
// cannot saturate the inference service.
type Remote struct {
	dialect   string
	base      string
	model     string
	dimension int
	http      *http.Client
	limiter   *rate.Limiter
	cache     *lru.Cache[string, []float32]
}

// NewRemote creates a remote embedder and probes the endpoint once to
// discover the vector dimension.
func NewRemote(ctx context.Context, dialect, apiBase, model string, timeout time.Duration) (*Remote, error) {
	switch dialect {
	case DialectService, DialectOllama:
	default:
		return nil, fmt.Errorf("embedding: unknown dialect %q", dialect)
	}

	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to create cache: %w", err)
	}

	r := &Remote{
		dialect: dialect,
		base:    strings.TrimRight(apiBase, "/"),
		model:   model,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		cache:   cache,
	}

	probe, err := r.encode(ctx, []string{"dimension probe"})
	if err != nil {
		return nil, fmt.Errorf("embedding: dimension probe failed: %w", err)
	}
	if len(probe) != 1 || len(probe[0]) == 0 {
		return nil, fmt.Errorf("embedding: dimension probe returned no vector")
	}
	r.dimension = len(probe[0])
	return r, nil
}

// Dimension returns the probed vector width.
func (r *Remote) Dimension() int { return r.dimension }

// ModelName returns the configured model.
func (r *Remote) ModelName() string { return r.model }

// Encode returns one vector per text, serving repeats from the cache.
func (r *Remote) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, text := range texts {
		if vec, ok := r.cache.Get(cacheKey(text)); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vectors, err := r.encode(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vectors {
			out[missIdx[j]] = vec
			r.cache.Add(cacheKey(missTexts[j]), vec)
		}
	}
	return out, nil
}

func (r *Remote) encode(ctx context.Context, texts []string) ([][]float32, error) {
	if r.dialect == DialectOllama {
		return r.encodeOllama(ctx, texts)
	}
	return r.encodeService(ctx, texts)
}

type serviceRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type serviceResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (r *Remote) encodeService(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := r.post(ctx, r.base+"/embeddings", serviceRequest{Model: r.model, Input: texts})
	if err != nil {
		return nil, err
	}

	var resp serviceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("embedding: failed to decode response: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	// The service may return items in any order; the index field is
	// authoritative.
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	vectors := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (r *Remote) encodeOllama(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		body, err := r.post(ctx, r.base+"/api/embeddings", ollamaEmbedRequest{Model: r.model, Prompt: text})
		if err != nil {
			return nil, err
		}
		var resp ollamaEmbedResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("embedding: failed to decode response: %w", err)
		}
		if len(resp.Embedding) == 0 {
			return nil, fmt.Errorf("embedding: empty vector for text %d", i)
		}
		vectors[i] = resp.Embedding
	}
	return vectors, nil
}

// post sends JSON with 3 attempts and exponential backoff on transport
// errors and 5xx. Persistent 4xx fails immediately; OOM-looking bodies are
// classified so the adaptive batcher can react.
func (r *Remote) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to encode request: %w", err)
	}

	var body []byte
	operation := func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("embedding: failed to build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.http.Do(req)
		if err != nil {
			return fmt.Errorf("embedding: request to %s failed: %w", endpoint, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("embedding: failed to read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			err := fmt.Errorf("embedding: %s returned status %d: %s", endpoint, resp.StatusCode, truncate(string(raw), 200))
			if IsOOM(err) {
				return backoff.Permanent(classifyError(err))
			}
			if resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		body = raw
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return string(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
