package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/focalhq/focal/pkg/types"
)

// ErrSearchUnavailable is returned when the semantic search circuit is open
// and requests are being rejected to protect the backend.
var ErrSearchUnavailable = errors.New("semantic search circuit is open")

// BreakerConfig tunes the semantic search circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip
	// the circuit. Default: 3.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before allowing test
	// requests. Default: 30 seconds.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of consecutive successes required
	// in half-open state to close the circuit again. Default: 2.
	HalfOpenMaxSuccesses uint32
}

// BreakerSearchProvider wraps a SemanticSearchProvider with a circuit
// breaker so a degraded vector backend fails fast instead of stalling every
// ranking request behind timeouts.
type BreakerSearchProvider struct {
	inner   SemanticSearchProvider
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerSearchProvider wraps the provider with default breaker settings.
func NewBreakerSearchProvider(inner SemanticSearchProvider) *BreakerSearchProvider {
	return NewBreakerSearchProviderWithConfig(inner, BreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	})
}

// NewBreakerSearchProviderWithConfig wraps the provider with custom settings.
func NewBreakerSearchProviderWithConfig(inner SemanticSearchProvider, cfg BreakerConfig) *BreakerSearchProvider {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxSuccesses == 0 {
		cfg.HalfOpenMaxSuccesses = 2
	}

	settings := gobreaker.Settings{
		Name:        "SemanticSearch",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}

	return &BreakerSearchProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Search delegates through the breaker. When the circuit is open it returns
// ErrSearchUnavailable immediately.
func (b *BreakerSearchProvider) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]types.SearchCandidate, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return b.inner.Search(ctx, userID, embedding, limit)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrSearchUnavailable
		}
		return nil, err
	}
	return result.([]types.SearchCandidate), nil
}

// State returns the breaker state as "closed", "open", or "half-open".
func (b *BreakerSearchProvider) State() string {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
