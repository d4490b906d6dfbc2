package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/focalhq/focal/internal/config"
	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/pkg/types"
)

// attentionKeyPrefix namespaces the per-user attention sets in the ordered
// set store.
const attentionKeyPrefix = "attention:"

// AttentionKey returns the ordered-set key for a user's attention window.
func AttentionKey(userID string) string {
	return attentionKeyPrefix + userID
}

// UserFromAttentionKey inverts AttentionKey; the bool is false for keys
// outside the attention namespace.
func UserFromAttentionKey(key string) (string, bool) {
	if !strings.HasPrefix(key, attentionKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, attentionKeyPrefix), true
}

// AttentionWindow maintains, per user, the bounded set of memories currently
// "in focus", gated by a fixed salience threshold.
//
// The window is an advisory ranking aid, not a source of truth: mutation is
// deliberately not transactional, so a concurrent add can race the
// check-then-trim sequence and leave the window briefly oversized or a
// just-added entry trimmed. Correctness only requires eventual threshold
// compliance.
type AttentionWindow struct {
	sets  storage.OrderedSetStore
	cfg   config.AttentionConfig
	decay config.DecayConfig
}

// NewAttentionWindow creates an attention window over the given ordered-set
// store.
func NewAttentionWindow(sets storage.OrderedSetStore, cfg config.AttentionConfig, decay config.DecayConfig) *AttentionWindow {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 60
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100
	}
	if cfg.WindowTTL <= 0 {
		cfg.WindowTTL = 24 * time.Hour
	}
	if cfg.RelevanceGain <= 0 {
		cfg.RelevanceGain = 0.5
	}
	return &AttentionWindow{sets: sets, cfg: cfg, decay: decay}
}

// belowThresholdMax is the top of the sub-threshold score range used for
// bulk trims. Scores are compared inclusively, so back off by an epsilon.
func (w *AttentionWindow) belowThresholdMax() float64 {
	return w.cfg.Threshold - 1e-9
}

// Add inserts or updates an entry when effectiveSalience clears the
// threshold, refreshing the whole window's TTL. Returns false without error
// when the score is below threshold.
//
// When cardinality exceeds MaxSize the window is bulk-trimmed by removing
// every entry scoring below the threshold. The trim is threshold-based, not
// strict top-K: if more than MaxSize entries all clear the threshold, the
// window stays oversized until entries later fall below threshold. Use
// TrimToCapacity for exact rank-based bounds.
func (w *AttentionWindow) Add(ctx context.Context, userID, memoryID string, effectiveSalience float64) (bool, error) {
	if effectiveSalience < w.cfg.Threshold {
		return false, nil
	}

	key := AttentionKey(userID)
	if err := w.sets.Add(ctx, key, effectiveSalience, memoryID); err != nil {
		return false, fmt.Errorf("attention: failed to add %s: %w", memoryID, err)
	}
	if err := w.sets.Expire(ctx, key, w.cfg.WindowTTL); err != nil {
		return false, fmt.Errorf("attention: failed to refresh window TTL: %w", err)
	}

	card, err := w.sets.Cardinality(ctx, key)
	if err != nil {
		return false, fmt.Errorf("attention: failed to check cardinality: %w", err)
	}
	if card > w.cfg.MaxSize {
		if _, err := w.sets.RemoveRangeByScore(ctx, key, 0, w.belowThresholdMax()); err != nil {
			return false, fmt.Errorf("attention: failed to trim window: %w", err)
		}
	}

	return true, nil
}

// Update repositions the entry when newSalience clears the threshold and
// removes it otherwise. This is the one place eviction is exact rather than
// approximate: an entry never lingers below threshold after an explicit
// update.
func (w *AttentionWindow) Update(ctx context.Context, userID, memoryID string, newSalience float64) error {
	key := AttentionKey(userID)
	if newSalience >= w.cfg.Threshold {
		if err := w.sets.Add(ctx, key, newSalience, memoryID); err != nil {
			return fmt.Errorf("attention: failed to update %s: %w", memoryID, err)
		}
		return nil
	}
	if err := w.sets.Remove(ctx, key, memoryID); err != nil {
		return fmt.Errorf("attention: failed to evict %s: %w", memoryID, err)
	}
	return nil
}

// Remove unconditionally removes an entry. Idempotent.
func (w *AttentionWindow) Remove(ctx context.Context, userID, memoryID string) error {
	if err := w.sets.Remove(ctx, AttentionKey(userID), memoryID); err != nil {
		return fmt.Errorf("attention: failed to remove %s: %w", memoryID, err)
	}
	return nil
}

// Prune removes every entry below threshold. Idempotent, safe on any
// schedule.
func (w *AttentionWindow) Prune(ctx context.Context, userID string) (int, error) {
	removed, err := w.sets.RemoveRangeByScore(ctx, AttentionKey(userID), 0, w.belowThresholdMax())
	if err != nil {
		return 0, fmt.Errorf("attention: failed to prune window: %w", err)
	}
	return removed, nil
}

// TrimToCapacity removes the lowest-ranked entries beyond MaxSize,
// regardless of score. The exact rank-based alternative to the bulk
// threshold trim in Add.
func (w *AttentionWindow) TrimToCapacity(ctx context.Context, userID string) (int, error) {
	key := AttentionKey(userID)
	overflow, err := w.sets.RangeDescending(ctx, key, w.cfg.MaxSize, -1)
	if err != nil {
		return 0, fmt.Errorf("attention: failed to list overflow: %w", err)
	}

	removed := 0
	for _, memoryID := range overflow {
		if err := w.sets.Remove(ctx, key, memoryID); err != nil {
			return removed, fmt.Errorf("attention: failed to trim %s: %w", memoryID, err)
		}
		removed++
	}
	return removed, nil
}

// RefreshCounts reports what a context refresh changed.
type RefreshCounts struct {
	Added   int
	Removed int
	Updated int
}

// RefreshForContext reconciles the window against the current unified
// context. For each candidate the effective salience is the decayed base
// blended with context relevance; membership is then reconciled three ways:
// add newly qualifying entries, remove entries that no longer qualify, and
// update the rest unconditionally so recency is refreshed even when the
// score is unchanged.
//
// Store failures on individual candidates are non-fatal: the candidate is
// skipped and logged, since attention is advisory.
func (w *AttentionWindow) RefreshForContext(ctx context.Context, userID string, unified *types.UnifiedUserContext, candidates []types.MemorySignals) (RefreshCounts, error) {
	var counts RefreshCounts
	key := AttentionKey(userID)
	now := time.Now()

	for _, candidate := range candidates {
		ageDays := now.Sub(candidate.CapturedAt).Hours() / 24
		decayed := candidate.BaseSalience * DecayModifier(ageDays, w.decay.RatePerDay, w.decay.Floor)
		relevance := ContextRelevance(candidate, unified)
		effective := ApplyContextRelevance(decayed, relevance, w.cfg.RelevanceGain)

		_, isMember, err := w.sets.Score(ctx, key, candidate.MemoryID)
		if err != nil {
			log.Printf("attention: skipping %s during refresh: %v", candidate.MemoryID, err)
			continue
		}

		shouldBeMember := effective >= w.cfg.Threshold
		switch {
		case shouldBeMember && !isMember:
			if err := w.sets.Add(ctx, key, effective, candidate.MemoryID); err != nil {
				log.Printf("attention: failed to add %s during refresh: %v", candidate.MemoryID, err)
				continue
			}
			counts.Added++
		case !shouldBeMember && isMember:
			if err := w.sets.Remove(ctx, key, candidate.MemoryID); err != nil {
				log.Printf("attention: failed to remove %s during refresh: %v", candidate.MemoryID, err)
				continue
			}
			counts.Removed++
		case shouldBeMember && isMember:
			if err := w.sets.Add(ctx, key, effective, candidate.MemoryID); err != nil {
				log.Printf("attention: failed to update %s during refresh: %v", candidate.MemoryID, err)
				continue
			}
			counts.Updated++
		}
	}

	if counts.Added > 0 || counts.Updated > 0 {
		if err := w.sets.Expire(ctx, key, w.cfg.WindowTTL); err != nil {
			log.Printf("attention: failed to refresh window TTL: %v", err)
		}
	}

	return counts, nil
}

// ContextRelevance returns the normalized overlap (0 to 1) between a
// memory's topics/people and the unified context's current activity and
// present people.
func ContextRelevance(signals types.MemorySignals, unified *types.UnifiedUserContext) float64 {
	if unified == nil {
		return 0
	}

	total := len(signals.People) + len(signals.Topics)
	if total == 0 {
		return 0
	}

	present := make(map[string]struct{})
	for _, person := range unified.People {
		present[strings.ToLower(person.Name)] = struct{}{}
	}

	activity := ""
	if unified.Activity != nil {
		activity = strings.ToLower(unified.Activity.Primary)
	}

	matches := 0
	for _, person := range signals.People {
		if _, ok := present[strings.ToLower(person)]; ok {
			matches++
		}
	}
	for _, topic := range signals.Topics {
		t := strings.ToLower(topic)
		if activity != "" && (strings.Contains(activity, t) || strings.Contains(t, activity)) {
			matches++
		}
	}

	return math.Min(1, float64(matches)/float64(total))
}

// ApplyContextRelevance blends decayed salience with context relevance
// multiplicatively: effective = min(100, decayed * (1 + relevance*gain)).
func ApplyContextRelevance(decayed, relevance, gain float64) float64 {
	if relevance < 0 {
		relevance = 0
	}
	if relevance > 1 {
		relevance = 1
	}
	return math.Min(maxSalience, decayed*(1+relevance*gain))
}

// List returns the window's memory IDs ranked by score descending. Read
// failures are non-fatal: the result is empty and the failure is logged.
func (w *AttentionWindow) List(ctx context.Context, userID string, limit int) []string {
	if limit <= 0 {
		limit = w.cfg.MaxSize
	}
	members, err := w.sets.RangeDescending(ctx, AttentionKey(userID), 0, limit-1)
	if err != nil {
		log.Printf("attention: failed to list window for %s: %v", userID, err)
		return []string{}
	}
	return members
}

// ListWithScores returns ranked entries with scores and recency attached.
// Read failures yield an empty result.
func (w *AttentionWindow) ListWithScores(ctx context.Context, userID string, limit int) []types.AttentionEntry {
	if limit <= 0 {
		limit = w.cfg.MaxSize
	}
	scored, err := w.sets.RangeDescendingWithScores(ctx, AttentionKey(userID), 0, limit-1)
	if err != nil {
		log.Printf("attention: failed to list window for %s: %v", userID, err)
		return []types.AttentionEntry{}
	}

	entries := make([]types.AttentionEntry, len(scored))
	for i, sm := range scored {
		entries[i] = types.AttentionEntry{
			MemoryID:          sm.Member,
			EffectiveSalience: sm.Score,
			LastUpdated:       sm.UpdatedAt,
		}
	}
	return entries
}

// AttentionStats summarises a window by score band.
type AttentionStats struct {
	Total int
	// Bands counts entries per score band: "critical" (90-100),
	// "high" (75-90), "focus" (threshold-75).
	Bands map[string]int
}

// Stats returns score-band counts for a user's window. Read failures yield
// zero stats.
func (w *AttentionWindow) Stats(ctx context.Context, userID string) AttentionStats {
	stats := AttentionStats{Bands: make(map[string]int)}
	key := AttentionKey(userID)

	total, err := w.sets.Cardinality(ctx, key)
	if err != nil {
		log.Printf("attention: failed to read stats for %s: %v", userID, err)
		return stats
	}
	stats.Total = total

	bands := []struct {
		name     string
		min, max float64
	}{
		{"critical", 90, maxSalience},
		{"high", 75, 90 - 1e-9},
		{"focus", w.cfg.Threshold, 75 - 1e-9},
	}
	for _, band := range bands {
		n, err := w.sets.CountInRange(ctx, key, band.min, band.max)
		if err != nil {
			log.Printf("attention: failed to count band %s for %s: %v", band.name, userID, err)
			continue
		}
		stats.Bands[band.name] = n
	}
	return stats
}

// Contains reports whether a memory is currently in the window. Read
// failures report false.
func (w *AttentionWindow) Contains(ctx context.Context, userID, memoryID string) bool {
	_, ok, err := w.sets.Score(ctx, AttentionKey(userID), memoryID)
	if err != nil {
		log.Printf("attention: failed to check membership for %s: %v", memoryID, err)
		return false
	}
	return ok
}
