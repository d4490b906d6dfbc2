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

type fakeTimeline struct {
	mu          sync.Mutex
	commitments []storage.TimelineCommitment
}

func (f *fakeTimeline) OpenCommitments(ctx context.Context, userID string, within time.Duration) ([]storage.TimelineCommitment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var out []storage.TimelineCommitment
	for _, c := range f.commitments {
		if c.UserID == userID && c.DueDate.After(now) && c.DueDate.Before(now.Add(within)) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeTimeline) PutCommitment(ctx context.Context, c *storage.TimelineCommitment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitments = append(f.commitments, *c)
	return nil
}

var _ storage.TimelineStore = (*fakeTimeline)(nil)

type fakeExtractor struct {
	features *types.ExtractedFeatures
	err      error
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) (*types.ExtractedFeatures, error) {
	return f.features, f.err
}

func testEngineConfig() *config.Config {
	return &config.Config{
		Attention: config.AttentionConfig{Threshold: 30, MaxSize: 100, WindowTTL: time.Hour, RelevanceGain: 0.5},
		Context:   config.ContextConfig{RefreshInterval: 30 * time.Second, DeviceTTLs: config.DefaultDeviceTTLs()},
		Decay:     config.DecayConfig{RatePerDay: 0.01, Floor: 0.3},
		Ranking:   config.RankingConfig{SemanticWeight: 0.6, SalienceWeight: 0.4},
		Patterns:  config.PatternConfig{FormationDays: 21, OccurrenceFloor: 5, PredictionThreshold: 0.6},
	}
}

func testEngine(search storage.SemanticSearchProvider) (*Engine, *fakeSalienceStore, *fakeTimeline) {
	salience := newFakeSalienceStore()
	timeline := &fakeTimeline{}
	stores := Stores{
		Sets:          newMemorySets(),
		Contexts:      newMemoryContexts(),
		Patterns:      newMemoryPatterns(),
		Salience:      salience,
		Weights:       &fakeWeightsSource{},
		Relationships: &fakeRelationships{},
		Timeline:      timeline,
		Search:        search,
	}
	return New(stores, testEngineConfig(), nil), salience, timeline
}

func TestEngineCapture(t *testing.T) {
	ctx := context.Background()

	t.Run("persists signals and admits salient captures", func(t *testing.T) {
		eng, salience, timeline := testEngine(nil)

		due := time.Now().Add(48 * time.Hour)
		features := &types.ExtractedFeatures{
			EmotionalKeywords:  []string{"thrilled", "proud"},
			Sentiment:          0.8,
			EmotionalIntensity: 0.7,
			People:             []types.PersonMention{{Name: "Maya", Intimacy: 0.8}},
			Topics:             []string{"promotion"},
			Commitments:        []types.Commitment{{Description: "book celebration dinner", DueDate: &due}},
		}
		capture := types.CaptureContext{Timestamp: time.Now(), IsLocationNew: true, ContextType: "work"}

		score, err := eng.Capture(ctx, "u1", "m1", features, capture)
		require.NoError(t, err)
		assert.Greater(t, score.Overall, 30.0)

		signals, err := salience.GetSignals(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, score.Overall, signals.BaseSalience)
		assert.Equal(t, []string{"Maya"}, signals.People)
		assert.Equal(t, []string{"promotion"}, signals.Topics)

		assert.True(t, eng.Attention().Contains(ctx, "u1", "m1"))

		open, err := timeline.OpenCommitments(ctx, "u1", 7*24*time.Hour)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, "book celebration dinner", open[0].Description)
	})

	t.Run("mundane captures stay out of the window", func(t *testing.T) {
		eng, salience, _ := testEngine(nil)

		score, err := eng.Capture(ctx, "u1", "m2", &types.ExtractedFeatures{}, types.CaptureContext{Timestamp: time.Now()})
		require.NoError(t, err)
		assert.Less(t, score.Overall, 30.0)

		_, err = salience.GetSignals(ctx, "m2")
		assert.NoError(t, err, "signals persist even for mundane captures")
		assert.False(t, eng.Attention().Contains(ctx, "u1", "m2"))
	})
}

func TestEngineCaptureText(t *testing.T) {
	ctx := context.Background()

	t.Run("extracts and scores", func(t *testing.T) {
		eng, salience, _ := testEngine(nil)
		eng.SetExtractor(&fakeExtractor{features: &types.ExtractedFeatures{
			EmotionalKeywords: []string{"excited"},
			Sentiment:         0.6,
		}})

		score, err := eng.CaptureText(ctx, "u1", "m1", "got great news today", types.CaptureContext{Timestamp: time.Now()})
		require.NoError(t, err)
		assert.Greater(t, score.Emotional, 0.0)

		_, err = salience.GetSignals(ctx, "m1")
		assert.NoError(t, err)
	})

	t.Run("extractor failure degrades to featureless capture", func(t *testing.T) {
		eng, salience, _ := testEngine(nil)
		eng.SetExtractor(&fakeExtractor{err: errors.New("model timeout")})

		score, err := eng.CaptureText(ctx, "u1", "m1", "anything", types.CaptureContext{Timestamp: time.Now()})
		require.NoError(t, err)
		assert.Zero(t, score.Emotional)

		_, err = salience.GetSignals(ctx, "m1")
		assert.NoError(t, err, "capture still persists without features")
	})
}

func TestEngineRetrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("without a search backend retrieval is disabled", func(t *testing.T) {
		eng, _, _ := testEngine(nil)
		_, err := eng.Retrieve(ctx, "u1", nil, 10, types.FocusDefault)
		assert.ErrorIs(t, err, ErrSearchDisabled)

		// MarkRetrieved is a quiet no-op in the same configuration.
		eng.MarkRetrieved(ctx, "u1", "m1")
	})

	t.Run("with a backend results are ranked", func(t *testing.T) {
		search := &fakeSearch{candidates: []types.SearchCandidate{
			{MemoryID: "a", Similarity: 0.4, Salience: 90, CapturedAt: time.Now()},
			{MemoryID: "b", Similarity: 0.5, Salience: 20, CapturedAt: time.Now()},
		}}
		eng, _, _ := testEngine(search)

		results, err := eng.Retrieve(ctx, "u1", nil, 10, types.FocusDefault)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a", results[0].Candidate.MemoryID)
	})
}

func TestEngineRefreshAttention(t *testing.T) {
	ctx := context.Background()
	eng, salience, _ := testEngine(nil)

	require.NoError(t, salience.PutSignals(ctx, &types.MemorySignals{
		MemoryID:     "m1",
		UserID:       "u1",
		BaseSalience: 80,
		CapturedAt:   time.Now().Add(-24 * time.Hour),
	}))

	counts, err := eng.RefreshAttention(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Added)
	assert.True(t, eng.Attention().Contains(ctx, "u1", "m1"))
}

func TestEngineObserveAndAnticipate(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := testEngine(nil)

	require.NoError(t, eng.UpdateDeviceContext(ctx, &types.DeviceContextFrame{
		UserID:     "u1",
		DeviceID:   "phone",
		DeviceType: types.DeviceMobile,
		Timestamp:  time.Now(),
		Activity:   "standup",
	}))

	features := &types.ExtractedFeatures{Topics: []string{"planning"}}
	pattern, err := eng.ObservePattern(ctx, "u1", features, []string{"m1"}, []string{"Maya"}, []string{"roadmap"})
	require.NoError(t, err)
	assert.Equal(t, 1, pattern.Occurrences)
	assert.Equal(t, []string{"m1"}, pattern.Memories)
	assert.Contains(t, pattern.People, "Maya")
	assert.Contains(t, pattern.Topics, "planning")
	assert.Contains(t, pattern.Topics, "roadmap")

	// A single unformed observation predicts nothing yet.
	predictions, err := eng.Anticipate(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, predictions)
}
