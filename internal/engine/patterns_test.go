package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focalhq/focal/internal/config"
	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/pkg/types"
)

type memoryPatterns struct {
	mu       sync.Mutex
	patterns map[string]types.LearnedPattern
}

func newMemoryPatterns() *memoryPatterns {
	return &memoryPatterns{patterns: make(map[string]types.LearnedPattern)}
}

func (m *memoryPatterns) key(userID, signature string) string {
	return userID + "\x00" + signature
}

func (m *memoryPatterns) Upsert(ctx context.Context, p *types.LearnedPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[m.key(p.UserID, p.Signature)] = *p
	return nil
}

func (m *memoryPatterns) GetBySignature(ctx context.Context, userID, signature string) (*types.LearnedPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[m.key(userID, signature)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (m *memoryPatterns) ListByUser(ctx context.Context, userID string) ([]types.LearnedPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.LearnedPattern
	for _, p := range m.patterns {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryPatterns) Count(ctx context.Context, userID string) (int, error) {
	list, _ := m.ListByUser(ctx, userID)
	return len(list), nil
}

var _ storage.PatternStore = (*memoryPatterns)(nil)

func testLearner(store storage.PatternStore) *PatternLearner {
	return NewPatternLearner(store, config.PatternConfig{
		FormationDays:       21,
		OccurrenceFloor:     5,
		PredictionThreshold: 0.6,
	})
}

func unifiedAt(at time.Time, location, activity string) *types.UnifiedUserContext {
	uc := &types.UnifiedUserContext{UserID: "u1", ComputedAt: at}
	if location != "" {
		uc.Location = &types.ResolvedLocation{Name: location}
	}
	if activity != "" {
		uc.Activity = &types.ResolvedActivity{Primary: activity}
	}
	return uc
}

func TestSignature(t *testing.T) {
	monday9am := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	t.Run("combines bucket, weekday, location, activity", func(t *testing.T) {
		assert.Equal(t, "morning|monday|office|standup", Signature(monday9am, "Office", "Standup"))
	})

	t.Run("empty dimensions keep placeholders", func(t *testing.T) {
		assert.Equal(t, "morning|monday|-|-", Signature(monday9am, "", ""))
	})

	t.Run("buckets cover the day", func(t *testing.T) {
		day := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, "night", timeOfDayBucket(day.Add(2*time.Hour)))
		assert.Equal(t, "morning", timeOfDayBucket(day.Add(8*time.Hour)))
		assert.Equal(t, "afternoon", timeOfDayBucket(day.Add(13*time.Hour)))
		assert.Equal(t, "evening", timeOfDayBucket(day.Add(19*time.Hour)))
		assert.Equal(t, "night", timeOfDayBucket(day.Add(23*time.Hour)))
	})

	t.Run("same situation produces the same signature", func(t *testing.T) {
		weekLater := monday9am.Add(7 * 24 * time.Hour)
		assert.Equal(t,
			Signature(monday9am, "Office", "standup"),
			Signature(weekLater, "office", "Standup"))
	})
}

func TestObserve(t *testing.T) {
	ctx := context.Background()

	t.Run("first observation creates an unformed pattern", func(t *testing.T) {
		learner := testLearner(newMemoryPatterns())
		uc := unifiedAt(time.Now(), "Office", "standup")

		pattern, err := learner.Observe(ctx, "u1", Observation{Context: uc, AccessedMemories: []string{"m1"}})
		require.NoError(t, err)
		assert.NotEmpty(t, pattern.ID)
		assert.Equal(t, 1, pattern.Occurrences)
		assert.False(t, pattern.IsFormed)
		assert.Equal(t, types.PatternUnformed, pattern.State(5))
		assert.Equal(t, 0.2, pattern.Confidence)
		assert.Equal(t, []string{"m1"}, pattern.Memories)
	})

	t.Run("repeat observations accumulate", func(t *testing.T) {
		learner := testLearner(newMemoryPatterns())
		uc := unifiedAt(time.Now(), "Office", "standup")

		var pattern *types.LearnedPattern
		var err error
		for i := 0; i < 6; i++ {
			pattern, err = learner.Observe(ctx, "u1", Observation{Context: uc})
			require.NoError(t, err)
		}
		assert.Equal(t, 6, pattern.Occurrences)
		// Past the floor but the formation period has not elapsed.
		assert.False(t, pattern.IsFormed)
		assert.Equal(t, types.PatternForming, pattern.State(5))
		assert.Equal(t, 0.4, pattern.Confidence)
	})

	t.Run("confidence ramps with occurrences before formation", func(t *testing.T) {
		store := newMemoryPatterns()
		learner := testLearner(store)
		uc := unifiedAt(time.Now(), "Office", "standup")

		expect := map[int]float64{4: 0.2, 9: 0.4, 14: 0.6, 15: 0.8}
		var pattern *types.LearnedPattern
		var err error
		for i := 1; i <= 15; i++ {
			pattern, err = learner.Observe(ctx, "u1", Observation{Context: uc})
			require.NoError(t, err)
			if want, ok := expect[i]; ok {
				assert.Equal(t, want, pattern.Confidence, "after %d occurrences", i)
			}
		}
	})

	t.Run("forms after the observation period with enough occurrences", func(t *testing.T) {
		store := newMemoryPatterns()
		learner := testLearner(store)
		uc := unifiedAt(time.Now(), "Office", "standup")
		signature := SignatureFor(uc)

		// Backdate an almost-formed pattern: 24 observed days, 12 occurrences.
		require.NoError(t, store.Upsert(ctx, &types.LearnedPattern{
			ID:          "p1",
			UserID:      "u1",
			Signature:   signature,
			Occurrences: 12,
			FirstSeen:   time.Now().Add(-24 * 24 * time.Hour),
			LastSeen:    time.Now().Add(-24 * time.Hour),
		}))

		pattern, err := learner.Observe(ctx, "u1", Observation{Context: uc})
		require.NoError(t, err)
		assert.True(t, pattern.IsFormed)
		assert.Equal(t, types.PatternFormed, pattern.State(5))
		// Formed confidence is occurrences over observed days.
		assert.InDelta(t, 13.0/24.0, pattern.Confidence, 0.03)
	})

	t.Run("formed confidence is capped below certainty", func(t *testing.T) {
		store := newMemoryPatterns()
		learner := testLearner(store)
		uc := unifiedAt(time.Now(), "Office", "standup")

		require.NoError(t, store.Upsert(ctx, &types.LearnedPattern{
			ID:          "p1",
			UserID:      "u1",
			Signature:   SignatureFor(uc),
			Occurrences: 500,
			FirstSeen:   time.Now().Add(-30 * 24 * time.Hour),
			LastSeen:    time.Now(),
			IsFormed:    true,
		}))

		pattern, err := learner.Observe(ctx, "u1", Observation{Context: uc})
		require.NoError(t, err)
		assert.Equal(t, formedConfidenceCap, pattern.Confidence)
	})

	t.Run("collects people from the context", func(t *testing.T) {
		learner := testLearner(newMemoryPatterns())
		uc := unifiedAt(time.Now(), "Office", "standup")
		uc.People = []types.ResolvedPerson{{Name: "Maya", Presence: types.PresencePresent}}

		pattern, err := learner.Observe(ctx, "u1", Observation{Context: uc})
		require.NoError(t, err)
		assert.Equal(t, []string{"Maya"}, pattern.People)

		// The same person is not duplicated on re-observation.
		pattern, err = learner.Observe(ctx, "u1", Observation{Context: uc})
		require.NoError(t, err)
		assert.Equal(t, []string{"Maya"}, pattern.People)
	})

	t.Run("folds features, mentioned people, and discussed topics", func(t *testing.T) {
		learner := testLearner(newMemoryPatterns())
		uc := unifiedAt(time.Now(), "Office", "standup")
		uc.People = []types.ResolvedPerson{{Name: "Maya", Presence: types.PresencePresent}}

		pattern, err := learner.Observe(ctx, "u1", Observation{
			Context: uc,
			Features: &types.ExtractedFeatures{
				People: []types.PersonMention{{Name: "Ben", Intimacy: 0.5}},
				Topics: []string{"roadmap"},
			},
			MentionedPeople: []string{"Ana", "maya"},
			DiscussedTopics: []string{"budget", "standup"},
		})
		require.NoError(t, err)
		// Fused, extracted, and explicitly mentioned people all land,
		// deduplicated case-insensitively.
		assert.Equal(t, []string{"Maya", "Ben", "Ana"}, pattern.People)
		assert.Equal(t, []string{"standup", "roadmap", "budget"}, pattern.Topics)
	})
}

func TestRecordFeedback(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*PatternLearner, string) {
		store := newMemoryPatterns()
		learner := testLearner(store)
		uc := unifiedAt(time.Now(), "Office", "standup")
		pattern, err := learner.Observe(ctx, "u1", Observation{Context: uc})
		require.NoError(t, err)
		return learner, pattern.Signature
	}

	t.Run("used reinforces", func(t *testing.T) {
		learner, signature := setup(t)
		require.NoError(t, learner.RecordFeedback(ctx, "u1", types.PatternFeedback{
			Signature: signature, Outcome: types.FeedbackUsed,
		}))
		pattern, err := learner.patterns.GetBySignature(ctx, "u1", signature)
		require.NoError(t, err)
		assert.InDelta(t, 0.1, pattern.RewardSignal, 1e-9)
	})

	t.Run("dismissed cuts hard and clamps", func(t *testing.T) {
		learner, signature := setup(t)
		for i := 0; i < 10; i++ {
			require.NoError(t, learner.RecordFeedback(ctx, "u1", types.PatternFeedback{
				Signature: signature, Outcome: types.FeedbackDismissed,
			}))
		}
		pattern, err := learner.patterns.GetBySignature(ctx, "u1", signature)
		require.NoError(t, err)
		assert.Equal(t, -1.0, pattern.RewardSignal)
	})

	t.Run("rejects unknown outcomes", func(t *testing.T) {
		learner, signature := setup(t)
		err := learner.RecordFeedback(ctx, "u1", types.PatternFeedback{
			Signature: signature, Outcome: "shrugged",
		})
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})

	t.Run("unknown signatures fail", func(t *testing.T) {
		learner := testLearner(newMemoryPatterns())
		err := learner.RecordFeedback(ctx, "u1", types.PatternFeedback{
			Signature: "morning|monday|-|-", Outcome: types.FeedbackUsed,
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestAnticipatedContext(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC) // Monday morning

	formed := func(signature string, confidence, reward float64) *types.LearnedPattern {
		return &types.LearnedPattern{
			ID:           "p-" + signature,
			UserID:       "u1",
			Signature:    signature,
			Occurrences:  20,
			FirstSeen:    now.Add(-30 * 24 * time.Hour),
			LastSeen:     now,
			Confidence:   confidence,
			IsFormed:     true,
			RewardSignal: reward,
			People:       []string{"Maya"},
			Topics:       []string{"standup"},
			Memories:     []string{"m1"},
		}
	}

	t.Run("matching formed patterns predict", func(t *testing.T) {
		store := newMemoryPatterns()
		require.NoError(t, store.Upsert(ctx, formed("morning|monday|office|standup", 0.8, 0)))
		learner := testLearner(store)

		predictions, err := learner.AnticipatedContext(ctx, "u1", now, nil)
		require.NoError(t, err)
		require.Len(t, predictions, 1)
		assert.Equal(t, "morning|monday|office|standup", predictions[0].Signature)
		assert.Equal(t, []string{"m1"}, predictions[0].Memories)
		assert.NotEmpty(t, predictions[0].Reason)
	})

	t.Run("unformed and low-confidence patterns stay silent", func(t *testing.T) {
		store := newMemoryPatterns()
		low := formed("morning|monday|office|standup", 0.4, 0)
		require.NoError(t, store.Upsert(ctx, low))
		unformed := formed("morning|monday|cafe|reading", 0.9, 0)
		unformed.IsFormed = false
		require.NoError(t, store.Upsert(ctx, unformed))
		learner := testLearner(store)

		predictions, err := learner.AnticipatedContext(ctx, "u1", now, nil)
		require.NoError(t, err)
		assert.Empty(t, predictions)
	})

	t.Run("negative reward suppresses predictions", func(t *testing.T) {
		store := newMemoryPatterns()
		require.NoError(t, store.Upsert(ctx, formed("morning|monday|office|standup", 0.8, -0.2)))
		learner := testLearner(store)

		predictions, err := learner.AnticipatedContext(ctx, "u1", now, nil)
		require.NoError(t, err)
		assert.Empty(t, predictions)
	})

	t.Run("mismatched time does not predict", func(t *testing.T) {
		store := newMemoryPatterns()
		require.NoError(t, store.Upsert(ctx, formed("evening|friday|home|cooking", 0.9, 0)))
		learner := testLearner(store)

		predictions, err := learner.AnticipatedContext(ctx, "u1", now, nil)
		require.NoError(t, err)
		assert.Empty(t, predictions)
	})

	t.Run("upcoming events with familiar people predict across time slots", func(t *testing.T) {
		store := newMemoryPatterns()
		require.NoError(t, store.Upsert(ctx, formed("evening|friday|restaurant|dinner", 0.9, 0)))
		learner := testLearner(store)

		events := []types.CalendarEvent{{
			Title:    "Dinner with Maya",
			StartsAt: now.Add(10 * time.Hour),
			People:   []string{"maya"},
		}}
		predictions, err := learner.AnticipatedContext(ctx, "u1", now, events)
		require.NoError(t, err)
		require.Len(t, predictions, 1)
		assert.Contains(t, predictions[0].Reason, "Dinner with Maya")
	})
}
