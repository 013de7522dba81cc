package llm

import (
	"fmt"

	"github.com/indexforge/docproc/internal/config"
)

// NewClient builds the provider client described by the configuration and
// wraps it in a circuit breaker.
func NewClient(cfg config.LLMConfig) (Client, error) {
	var inner Client
	switch cfg.Provider {
	case "openai":
		inner = NewOpenAIClient(cfg.APIBase, cfg.Model, cfg.RequestTimeout)
	case "vllm":
		inner = NewVLLMClient(cfg.APIBase, cfg.Model, cfg.RequestTimeout, cfg.VLLMPriority)
	case "ollama":
		inner = NewOllamaClient(cfg.APIBase, cfg.Model, cfg.RequestTimeout)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	return NewBreakerClient(inner), nil
}
