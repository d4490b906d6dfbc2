package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focalhq/focal/internal/config"
	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/pkg/types"
)

type fakeSearch struct {
	candidates []types.SearchCandidate
	err        error
}

func (f *fakeSearch) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]types.SearchCandidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

type fakeSalienceStore struct {
	mu      sync.Mutex
	signals map[string]*types.MemorySignals
	logged  int
}

func newFakeSalienceStore() *fakeSalienceStore {
	return &fakeSalienceStore{signals: make(map[string]*types.MemorySignals)}
}

func (f *fakeSalienceStore) PutSignals(ctx context.Context, s *types.MemorySignals) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *s
	f.signals[s.MemoryID] = &copied
	return nil
}

func (f *fakeSalienceStore) GetSignals(ctx context.Context, memoryID string) (*types.MemorySignals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.signals[memoryID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSalienceStore) ListByUser(ctx context.Context, userID string) ([]types.MemorySignals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.MemorySignals
	for _, s := range f.signals {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSalienceStore) ApplyRetrievalBoost(ctx context.Context, memoryID string, boosted float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.signals[memoryID]
	if !ok {
		return storage.ErrNotFound
	}
	s.BaseSalience = boosted
	s.RetrievalCount++
	return nil
}

func (f *fakeSalienceStore) LogRetrieval(ctx context.Context, userID, memoryID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logged++
	return nil
}

var _ storage.SalienceStore = (*fakeSalienceStore)(nil)

type fakeRelationships struct {
	snapshots []types.RelationshipSnapshot
}

func (f *fakeRelationships) GetSnapshot(ctx context.Context, userID, person string) (*types.RelationshipSnapshot, error) {
	for i := range f.snapshots {
		if f.snapshots[i].Person == person {
			return &f.snapshots[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeRelationships) ListSnapshots(ctx context.Context, userID string) ([]types.RelationshipSnapshot, error) {
	return f.snapshots, nil
}

func (f *fakeRelationships) PutSnapshot(ctx context.Context, s *types.RelationshipSnapshot) error {
	for i := range f.snapshots {
		if f.snapshots[i].Person == s.Person {
			f.snapshots[i] = *s
			return nil
		}
	}
	f.snapshots = append(f.snapshots, *s)
	return nil
}

var _ storage.RelationshipStore = (*fakeRelationships)(nil)

func testRanker(search storage.SemanticSearchProvider, salience storage.SalienceStore, rel storage.RelationshipStore) *RetrievalRanker {
	return NewRetrievalRanker(search, salience, rel, nil,
		config.RankingConfig{SemanticWeight: 0.6, SalienceWeight: 0.4},
		config.DecayConfig{RatePerDay: 0.01, Floor: 0.3})
}

func TestRank(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("high stored salience outranks raw similarity", func(t *testing.T) {
		// A very similar but unremarkable memory against a moderately similar
		// but highly salient one: the salient memory wins the blend.
		search := &fakeSearch{candidates: []types.SearchCandidate{
			{MemoryID: "similar", Similarity: 0.9, Salience: 20, CapturedAt: now.Add(-24 * time.Hour)},
			{MemoryID: "salient", Similarity: 0.5, Salience: 95, CapturedAt: now.Add(-48 * time.Hour)},
		}}
		ranker := testRanker(search, newFakeSalienceStore(), nil)

		results, err := ranker.Rank(ctx, "u1", nil, 10, types.FocusDefault)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "salient", results[0].Candidate.MemoryID)
		assert.Equal(t, "similar", results[1].Candidate.MemoryID)
	})

	t.Run("scores stay within the unit range", func(t *testing.T) {
		due := now.Add(12 * time.Hour)
		search := &fakeSearch{candidates: []types.SearchCandidate{{
			MemoryID:    "loaded",
			Similarity:  1,
			Salience:    100,
			CapturedAt:  now,
			People:      []string{"Maya"},
			Commitments: []types.Commitment{{Description: "x", DueDate: &due}},
		}}}
		rel := &fakeRelationships{snapshots: []types.RelationshipSnapshot{{
			Person:          "Maya",
			Pattern:         types.RelationshipActive,
			LastInteraction: now.Add(-24 * time.Hour),
			UpcomingEvents:  []types.CalendarEvent{{Title: "dinner", StartsAt: now.Add(6 * time.Hour)}},
		}}}
		ranker := testRanker(search, newFakeSalienceStore(), rel)

		results, err := ranker.Rank(ctx, "u1", nil, 10, types.FocusDefault)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.LessOrEqual(t, results[0].Score, 1.0)
		assert.Equal(t, maxEventBoost, results[0].Components.EventBoost)
		assert.Greater(t, results[0].Components.DeadlineBoost, 0.0)
		// One day since the last interaction: near-full boost, fading
		// linearly over the 30-day window.
		assert.InDelta(t, maxRelationshipBoost*(1-1.0/30), results[0].Components.RelationshipBoost, 1e-3)
	})

	t.Run("dormant relationships contribute no boosts", func(t *testing.T) {
		search := &fakeSearch{candidates: []types.SearchCandidate{{
			MemoryID:   "old-friend",
			Similarity: 0.7,
			Salience:   50,
			CapturedAt: now.Add(-24 * time.Hour),
			People:     []string{"Pat"},
		}}}
		rel := &fakeRelationships{snapshots: []types.RelationshipSnapshot{{
			Person:          "Pat",
			Pattern:         types.RelationshipDormant,
			LastInteraction: now.Add(-90 * 24 * time.Hour),
			UpcomingEvents:  []types.CalendarEvent{{Title: "reunion", StartsAt: now.Add(3 * time.Hour)}},
		}}}
		ranker := testRanker(search, newFakeSalienceStore(), rel)

		results, err := ranker.Rank(ctx, "u1", nil, 10, types.FocusDefault)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Zero(t, results[0].Components.EventBoost)
		assert.Zero(t, results[0].Components.RelationshipBoost)
	})

	t.Run("search failures propagate", func(t *testing.T) {
		ranker := testRanker(&fakeSearch{err: errors.New("index down")}, newFakeSalienceStore(), nil)
		_, err := ranker.Rank(ctx, "u1", nil, 10, types.FocusDefault)
		assert.Error(t, err)
	})

	t.Run("empty search yields empty results", func(t *testing.T) {
		ranker := testRanker(&fakeSearch{}, newFakeSalienceStore(), nil)
		results, err := ranker.Rank(ctx, "u1", nil, 10, types.FocusDefault)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("limit truncates after re-ranking", func(t *testing.T) {
		search := &fakeSearch{candidates: []types.SearchCandidate{
			{MemoryID: "a", Similarity: 0.9, Salience: 50, CapturedAt: now},
			{MemoryID: "b", Similarity: 0.8, Salience: 50, CapturedAt: now},
			{MemoryID: "c", Similarity: 0.7, Salience: 50, CapturedAt: now},
		}}
		ranker := testRanker(search, newFakeSalienceStore(), nil)
		results, err := ranker.Rank(ctx, "u1", nil, 2, types.FocusDefault)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("timeline commitments backfill missing deadline boosts", func(t *testing.T) {
		// The candidate carries no denormalized commitments; the timeline
		// read model still knows one is due soon.
		search := &fakeSearch{candidates: []types.SearchCandidate{{
			MemoryID:   "m1",
			Similarity: 0.8,
			Salience:   50,
			CapturedAt: now.Add(-24 * time.Hour),
		}}}
		timeline := &fakeTimeline{}
		require.NoError(t, timeline.PutCommitment(ctx, &storage.TimelineCommitment{
			UserID:      "u1",
			MemoryID:    "m1",
			Description: "file the report",
			DueDate:     now.Add(12 * time.Hour),
		}))
		ranker := NewRetrievalRanker(search, newFakeSalienceStore(), nil, timeline,
			config.RankingConfig{SemanticWeight: 0.6, SalienceWeight: 0.4},
			config.DecayConfig{RatePerDay: 0.01, Floor: 0.3})

		results, err := ranker.Rank(ctx, "u1", nil, 10, types.FocusDefault)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Greater(t, results[0].Components.DeadlineBoost, 0.0)
		require.Len(t, results[0].Candidate.Commitments, 1)
		assert.Equal(t, "file the report", results[0].Candidate.Commitments[0].Description)
	})
}

func TestPersonBoosts(t *testing.T) {
	now := time.Now()
	snapshot := func(pattern string, lastInteraction time.Time, events ...types.CalendarEvent) map[string]types.RelationshipSnapshot {
		return map[string]types.RelationshipSnapshot{
			"maya": {
				Person:          "Maya",
				Pattern:         pattern,
				LastInteraction: lastInteraction,
				UpcomingEvents:  events,
			},
		}
	}

	t.Run("any event within the horizon grants the full boost", func(t *testing.T) {
		far := snapshot(types.RelationshipActive, now.Add(-40*24*time.Hour),
			types.CalendarEvent{Title: "dinner", StartsAt: now.Add(6 * 24 * time.Hour)})
		event, _ := personBoosts([]string{"Maya"}, far, now)
		assert.Equal(t, maxEventBoost, event)

		near := snapshot(types.RelationshipActive, now.Add(-40*24*time.Hour),
			types.CalendarEvent{Title: "coffee", StartsAt: now.Add(2 * time.Hour)})
		event, _ = personBoosts([]string{"Maya"}, near, now)
		assert.Equal(t, maxEventBoost, event)
	})

	t.Run("events beyond the horizon do not boost", func(t *testing.T) {
		snapshots := snapshot(types.RelationshipActive, now.Add(-40*24*time.Hour),
			types.CalendarEvent{Title: "conference", StartsAt: now.Add(20 * 24 * time.Hour)})
		event, _ := personBoosts([]string{"Maya"}, snapshots, now)
		assert.Zero(t, event)
	})

	t.Run("relationship boost fades linearly with interaction recency", func(t *testing.T) {
		_, fresh := personBoosts([]string{"Maya"},
			snapshot(types.RelationshipActive, now.Add(-24*time.Hour)), now)
		_, stale := personBoosts([]string{"Maya"},
			snapshot(types.RelationshipActive, now.Add(-13*24*time.Hour)), now)

		assert.InDelta(t, maxRelationshipBoost*(1-1.0/30), fresh, 1e-3)
		assert.InDelta(t, maxRelationshipBoost*(1-13.0/30), stale, 1e-3)
		assert.Greater(t, fresh, stale)
	})

	t.Run("fading relationships still boost within the window", func(t *testing.T) {
		_, relationship := personBoosts([]string{"Maya"},
			snapshot(types.RelationshipFading, now.Add(-20*24*time.Hour)), now)
		assert.InDelta(t, maxRelationshipBoost*(1-20.0/30), relationship, 1e-3)
	})

	t.Run("interactions past the window do not boost", func(t *testing.T) {
		_, relationship := personBoosts([]string{"Maya"},
			snapshot(types.RelationshipActive, now.Add(-45*24*time.Hour)), now)
		assert.Zero(t, relationship)
	})

	t.Run("dormant relationships contribute nothing", func(t *testing.T) {
		event, relationship := personBoosts([]string{"Maya"},
			snapshot(types.RelationshipDormant, now.Add(-24*time.Hour),
				types.CalendarEvent{Title: "reunion", StartsAt: now.Add(3 * time.Hour)}), now)
		assert.Zero(t, event)
		assert.Zero(t, relationship)
	})
}

func TestTemporalAdjustment(t *testing.T) {
	now := time.Now()

	t.Run("recent focus rewards freshness on a gradient", func(t *testing.T) {
		fresh := temporalAdjustment(types.FocusRecent, 1, types.SearchCandidate{}, now)
		older := temporalAdjustment(types.FocusRecent, 25, types.SearchCandidate{}, now)
		ancient := temporalAdjustment(types.FocusRecent, 90, types.SearchCandidate{}, now)
		assert.Greater(t, fresh, older)
		assert.Greater(t, older, 0.0)
		assert.Zero(t, ancient)
	})

	t.Run("this-week focus penalizes older memories", func(t *testing.T) {
		assert.Equal(t, 0.15, temporalAdjustment(types.FocusThisWeek, 3, types.SearchCandidate{}, now))
		assert.Equal(t, -0.05, temporalAdjustment(types.FocusThisWeek, 10, types.SearchCandidate{}, now))
	})

	t.Run("historical focus inverts the preference", func(t *testing.T) {
		assert.Equal(t, 0.15, temporalAdjustment(types.FocusHistorical, 200, types.SearchCandidate{}, now))
		assert.Equal(t, -0.1, temporalAdjustment(types.FocusHistorical, 5, types.SearchCandidate{}, now))
		assert.Zero(t, temporalAdjustment(types.FocusHistorical, 90, types.SearchCandidate{}, now))
	})

	t.Run("upcoming focus rewards open commitments", func(t *testing.T) {
		due := now.Add(48 * time.Hour)
		withOpen := types.SearchCandidate{Commitments: []types.Commitment{{Description: "x", DueDate: &due}}}
		past := now.Add(-48 * time.Hour)
		withClosed := types.SearchCandidate{Commitments: []types.Commitment{{Description: "y", DueDate: &past}}}

		assert.Equal(t, 0.2, temporalAdjustment(types.FocusUpcoming, 10, withOpen, now))
		assert.Zero(t, temporalAdjustment(types.FocusUpcoming, 10, withClosed, now))
	})

	t.Run("default focus is neutral", func(t *testing.T) {
		assert.Zero(t, temporalAdjustment(types.FocusDefault, 5, types.SearchCandidate{}, now))
		assert.Zero(t, temporalAdjustment("unrecognized", 5, types.SearchCandidate{}, now))
	})
}

func TestDeadlineBoost(t *testing.T) {
	now := time.Now()

	t.Run("nearer deadlines boost harder", func(t *testing.T) {
		soon := now.Add(6 * time.Hour)
		later := now.Add(6 * 24 * time.Hour)
		near := deadlineBoost([]types.Commitment{{Description: "x", DueDate: &soon}}, now)
		far := deadlineBoost([]types.Commitment{{Description: "y", DueDate: &later}}, now)
		assert.Greater(t, near, far)
		assert.LessOrEqual(t, near, maxDeadlineBoost)
	})

	t.Run("past and distant deadlines do not boost", func(t *testing.T) {
		past := now.Add(-time.Hour)
		distant := now.Add(30 * 24 * time.Hour)
		assert.Zero(t, deadlineBoost([]types.Commitment{
			{Description: "x", DueDate: &past},
			{Description: "y", DueDate: &distant},
			{Description: "z"},
		}, now))
	})
}

func TestMarkRetrieved(t *testing.T) {
	ctx := context.Background()

	t.Run("boosts, counts, and logs", func(t *testing.T) {
		store := newFakeSalienceStore()
		require.NoError(t, store.PutSignals(ctx, &types.MemorySignals{
			MemoryID:     "m1",
			UserID:       "u1",
			BaseSalience: 50,
			CapturedAt:   time.Now(),
		}))
		ranker := testRanker(&fakeSearch{}, store, nil)

		ranker.MarkRetrieved(ctx, "u1", "m1")

		signals, err := store.GetSignals(ctx, "m1")
		require.NoError(t, err)
		assert.Greater(t, signals.BaseSalience, 50.0)
		assert.Equal(t, 1, signals.RetrievalCount)
		assert.Equal(t, 1, store.logged)
	})

	t.Run("unknown memories are a quiet no-op", func(t *testing.T) {
		store := newFakeSalienceStore()
		ranker := testRanker(&fakeSearch{}, store, nil)
		ranker.MarkRetrieved(ctx, "u1", "ghost")
		assert.Zero(t, store.logged)
	})
}
