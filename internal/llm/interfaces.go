// Package llm provides chat-completion clients for the enrichment stages,
// a circuit breaker guarding them, and parsing of the structured JSON the
// prompts demand from the model.
package llm

import "context"

// Usage carries token accounting when the provider reports it.
type Usage struct {
	PromptTokens     *int
	CompletionTokens *int
}

// Result is one raw completion.
type Result struct {
	Content string
	Usage   Usage
}

// Client is the interface for LLM text generation. All enrichment prompts
// use a system prompt plus a single user prompt.
type Client interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (*Result, error)
	Model() string
}
