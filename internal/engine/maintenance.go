package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/pkg/types"
)

// Relationship classification cutoffs for snapshot refresh.
const (
	relationshipActiveWithin = 14 * 24 * time.Hour
	relationshipDormantAfter = 60 * 24 * time.Hour
)

// Sweeper runs the periodic maintenance passes: purging expired attention
// sets and context rows, pruning sub-threshold attention entries, and
// reclassifying relationship snapshots by interaction recency.
//
// Per-user work is rate-limited so a sweep over a large user base never
// saturates the single-writer store.
type Sweeper struct {
	sets          storage.OrderedSetStore
	contexts      storage.ContextStore
	relationships storage.RelationshipStore
	attention     *AttentionWindow
	limiter       *rate.Limiter
}

// NewSweeper creates a sweeper. opsPerSecond bounds per-user maintenance
// operations; non-positive values default to 50.
func NewSweeper(sets storage.OrderedSetStore, contexts storage.ContextStore, relationships storage.RelationshipStore, attention *AttentionWindow, opsPerSecond float64) *Sweeper {
	if opsPerSecond <= 0 {
		opsPerSecond = 50
	}
	return &Sweeper{
		sets:          sets,
		contexts:      contexts,
		relationships: relationships,
		attention:     attention,
		limiter:       rate.NewLimiter(rate.Limit(opsPerSecond), 1),
	}
}

// SweepStats summarises one full sweep.
type SweepStats struct {
	ExpiredSets     int
	ExpiredContexts int
	PrunedEntries   int
	Reclassified    int
}

// Sweep runs every maintenance pass once. Individual pass failures are
// logged and do not abort the sweep; the error return is reserved for
// context cancellation.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	n, err := s.sets.PurgeExpired(ctx)
	if err != nil {
		log.Printf("sweeper: failed to purge expired sets: %v", err)
	} else {
		stats.ExpiredSets = n
	}

	n, err = s.contexts.PurgeExpired(ctx)
	if err != nil {
		log.Printf("sweeper: failed to purge expired contexts: %v", err)
	} else {
		stats.ExpiredContexts = n
	}

	pruned, err := s.pruneAttention(ctx)
	if err != nil {
		return stats, err
	}
	stats.PrunedEntries = pruned

	return stats, nil
}

// pruneAttention walks every live attention window and removes entries that
// have decayed below threshold since their last refresh.
func (s *Sweeper) pruneAttention(ctx context.Context) (int, error) {
	keys, err := s.sets.Keys(ctx)
	if err != nil {
		log.Printf("sweeper: failed to list set keys: %v", err)
		return 0, nil
	}

	total := 0
	for _, key := range keys {
		userID, ok := UserFromAttentionKey(key)
		if !ok {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return total, fmt.Errorf("sweeper: aborted: %w", err)
		}
		n, err := s.attention.Prune(ctx, userID)
		if err != nil {
			log.Printf("sweeper: failed to prune window for %s: %v", userID, err)
			continue
		}
		total += n
	}
	return total, nil
}

// RefreshRelationships reclassifies a user's relationship snapshots from
// interaction recency: recent contact is active, long silence is dormant,
// the band between is fading. Idempotent; only changed rows are rewritten.
func (s *Sweeper) RefreshRelationships(ctx context.Context, userID string) (int, error) {
	snapshots, err := s.relationships.ListSnapshots(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("sweeper: failed to list snapshots for %s: %w", userID, err)
	}

	now := time.Now()
	changed := 0
	for i := range snapshots {
		snapshot := &snapshots[i]
		pattern := classifyRelationship(now.Sub(snapshot.LastInteraction))
		if pattern == snapshot.Pattern {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return changed, fmt.Errorf("sweeper: aborted: %w", err)
		}
		snapshot.Pattern = pattern
		if err := s.relationships.PutSnapshot(ctx, snapshot); err != nil {
			log.Printf("sweeper: failed to update snapshot for %s/%s: %v", userID, snapshot.Person, err)
			continue
		}
		changed++
	}
	return changed, nil
}

func classifyRelationship(sinceLast time.Duration) string {
	switch {
	case sinceLast <= relationshipActiveWithin:
		return types.RelationshipActive
	case sinceLast > relationshipDormantAfter:
		return types.RelationshipDormant
	default:
		return types.RelationshipFading
	}
}

// Run sweeps on the given interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.Sweep(ctx)
			if err != nil {
				log.Printf("sweeper: sweep aborted: %v", err)
				return
			}
			log.Printf("sweeper: purged %d sets, %d context rows, pruned %d entries",
				stats.ExpiredSets, stats.ExpiredContexts, stats.PrunedEntries)
		}
	}
}
