package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a request
// to prevent hammering a failing provider.
var ErrCircuitOpen = errors.New("llm: circuit breaker is open")

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that trips the
	// circuit. Default: 3.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before allowing test
	// requests. Default: 30 seconds.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of consecutive successes in
	// half-open state required to close the circuit. Default: 2.
	HalfOpenMaxSuccesses uint32
}

// BreakerClient wraps a Client with a circuit breaker. While the circuit
// is open every call fails fast with ErrCircuitOpen, which marks the
// affected chunks failed without waiting out provider timeouts.
type BreakerClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps inner with default breaker settings.
func NewBreakerClient(inner Client) *BreakerClient {
	return NewBreakerClientWithConfig(inner, BreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	})
}

// NewBreakerClientWithConfig wraps inner with custom breaker settings.
func NewBreakerClientWithConfig(inner Client, cfg BreakerConfig) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        "llm",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}
	return &BreakerClient{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Model returns the wrapped client's model name.
func (b *BreakerClient) Model() string { return b.inner.Model() }

// Generate proxies to the wrapped client through the breaker.
func (b *BreakerClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (*Result, error) {
	out, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Generate(ctx, systemPrompt, userPrompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return out.(*Result), nil
}
