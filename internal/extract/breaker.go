package extract

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/focalhq/focal/pkg/types"
)

// ErrExtractorUnavailable is returned when the extractor circuit is open.
var ErrExtractorUnavailable = errors.New("feature extractor circuit is open")

// BreakerExtractor wraps a remote Extractor with a circuit breaker so a
// failing extraction backend degrades to all-default features quickly instead
// of stacking timeouts on every capture.
type BreakerExtractor struct {
	inner   Extractor
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerExtractor wraps the extractor with defaults: trip after 3
// consecutive failures, stay open 30 seconds, close after 2 half-open
// successes.
func NewBreakerExtractor(inner Extractor) *BreakerExtractor {
	settings := gobreaker.Settings{
		Name:        "FeatureExtractor",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &BreakerExtractor{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Extract delegates through the breaker. When the circuit is open it returns
// ErrExtractorUnavailable immediately; callers fall back to all-default
// features, which every scoring component tolerates.
func (b *BreakerExtractor) Extract(ctx context.Context, text string) (*types.ExtractedFeatures, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return b.inner.Extract(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrExtractorUnavailable
		}
		return nil, err
	}
	return result.(*types.ExtractedFeatures), nil
}
