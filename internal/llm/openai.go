package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
// The vLLM dialect is identical except for an extra request priority field.
type OpenAIClient struct {
	endpoint string
	model    string
	priority string // non-empty only for the vllm dialect
	http     *http.Client
}

// NewOpenAIClient creates a client for {apiBase}/v1/chat/completions.
func NewOpenAIClient(apiBase, model string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		endpoint: strings.TrimRight(apiBase, "/") + "/v1/chat/completions",
		model:    model,
		http:     &http.Client{Timeout: timeout},
	}
}

// NewVLLMClient creates an OpenAI-dialect client that tags every request
// with a vLLM scheduling priority.
func NewVLLMClient(apiBase, model string, timeout time.Duration, priority string) *OpenAIClient {
	c := NewOpenAIClient(apiBase, model, timeout)
	c.priority = priority
	return c
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
	Priority    string        `json:"priority,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     *int `json:"prompt_tokens"`
		CompletionTokens *int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate runs one deterministic chat completion.
func (c *OpenAIClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (*Result, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0,
		Stream:      false,
		Priority:    c.priority,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: failed to encode request: %w", err)
	}

	body, err := postWithRetry(ctx, c.http, c.endpoint, payload)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("llm: failed to decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: response contains no choices")
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("llm: model returned an empty response")
	}

	return &Result{
		Content: content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// postWithRetry POSTs JSON with up to 3 attempts and exponential backoff.
// 4xx statuses are permanent: the request will not get better by retrying.
func postWithRetry(ctx context.Context, client *http.Client, endpoint string, payload []byte) ([]byte, error) {
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("llm: failed to build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("llm: request to %s failed: %w", endpoint, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("llm: failed to read response: %w", err)
		}

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("llm: %s returned status %d: %s", endpoint, resp.StatusCode, truncate(string(data), 200)))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("llm: %s returned status %d", endpoint, resp.StatusCode)
		}

		body = data
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 10 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
