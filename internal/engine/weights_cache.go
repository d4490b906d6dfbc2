package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/focalhq/focal/pkg/types"
)

// WeightsSource is the backing fetch for per-user salience weights. The bool
// is false when the user has no learned weights yet.
type WeightsSource interface {
	Get(ctx context.Context, userID string) (types.SalienceWeights, bool, error)
}

// WeightsCache is a TTL-bounded, in-process cache of per-user salience
// weights. Concurrent lookups for the same user are coalesced into a single
// underlying fetch. Recalibration invalidates explicitly; until a user has
// learned weights the uniform default is cached.
type WeightsCache struct {
	source WeightsSource
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]weightsEntry
	group   singleflight.Group
}

type weightsEntry struct {
	weights   types.SalienceWeights
	fetchedAt time.Time
}

// NewWeightsCache creates a cache over the given source. ttl bounds how long
// an entry is served without re-fetching; non-positive ttl defaults to five
// minutes.
func NewWeightsCache(source WeightsSource, ttl time.Duration) *WeightsCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &WeightsCache{
		source:  source,
		ttl:     ttl,
		entries: make(map[string]weightsEntry),
	}
}

// Get returns the user's weights, fetching through the source on a cache
// miss. Duplicate concurrent misses for the same user share one fetch.
func (c *WeightsCache) Get(ctx context.Context, userID string) (types.SalienceWeights, error) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.weights, nil
	}

	result, err, _ := c.group.Do(userID, func() (interface{}, error) {
		// Re-check under the flight: another caller may have refreshed the
		// entry while this one was queued.
		c.mu.RLock()
		entry, ok := c.entries[userID]
		c.mu.RUnlock()
		if ok && time.Since(entry.fetchedAt) < c.ttl {
			return entry.weights, nil
		}

		weights, found, err := c.source.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !found {
			weights = types.DefaultSalienceWeights()
		} else {
			weights = weights.Normalize()
		}

		c.mu.Lock()
		c.entries[userID] = weightsEntry{weights: weights, fetchedAt: time.Now()}
		c.mu.Unlock()
		return weights, nil
	})
	if err != nil {
		return types.SalienceWeights{}, err
	}
	return result.(types.SalienceWeights), nil
}

// Invalidate drops a user's cached entry. Called after recalibration so the
// next lookup fetches the new vector.
func (c *WeightsCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// Clear drops every cached entry.
func (c *WeightsCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]weightsEntry)
	c.mu.Unlock()
}
