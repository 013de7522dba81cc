package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaClient talks to a local Ollama instance via /api/generate.
type OllamaClient struct {
	endpoint string
	model    string
	http     *http.Client
}

// NewOllamaClient creates a client for {apiBase}/api/generate.
func NewOllamaClient(apiBase, model string, timeout time.Duration) *OllamaClient {
	return &OllamaClient{
		endpoint: strings.TrimRight(apiBase, "/") + "/api/generate",
		model:    model,
		http:     &http.Client{Timeout: timeout},
	}
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string { return c.model }

type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// Generate runs one deterministic completion.
func (c *OllamaClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (*Result, error) {
	payload, err := json.Marshal(ollamaRequest{
		Model:   c.model,
		System:  systemPrompt,
		Prompt:  userPrompt,
		Stream:  false,
		Options: map[string]any{"temperature": 0.0},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: failed to encode request: %w", err)
	}

	body, err := postWithRetry(ctx, c.http, c.endpoint, payload)
	if err != nil {
		return nil, err
	}

	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("llm: failed to decode response: %w", err)
	}
	if strings.TrimSpace(resp.Response) == "" {
		return nil, fmt.Errorf("llm: model returned an empty response")
	}

	return &Result{Content: resp.Response}, nil
}
