package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/focalhq/focal/internal/config"
	"github.com/focalhq/focal/internal/extract"
	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/pkg/types"
)

// ErrSearchDisabled is returned by retrieval operations when no semantic
// search provider was configured.
var ErrSearchDisabled = errors.New("engine: semantic search is not configured")

// Stores bundles the storage capabilities the engine composes over.
type Stores struct {
	Sets          storage.OrderedSetStore
	Contexts      storage.ContextStore
	Patterns      storage.PatternStore
	Salience      storage.SalienceStore
	Weights       storage.WeightsStore
	Relationships storage.RelationshipStore
	Timeline      storage.TimelineStore

	// Search is optional; nil disables retrieval ranking.
	Search storage.SemanticSearchProvider
}

// Engine is the composed salience core: capture scoring, the attention
// window, context fusion, retrieval ranking, and pattern learning behind
// one facade.
type Engine struct {
	cfg *config.Config

	weightsCache *WeightsCache
	scorer       *SalienceScorer
	attention    *AttentionWindow
	integrator   *ContextIntegrator
	learner      *PatternLearner
	ranker       *RetrievalRanker

	salience  storage.SalienceStore
	timeline  storage.TimelineStore
	extractor extract.Extractor
}

// New wires an Engine from stores and configuration. profiles may be nil.
func New(stores Stores, cfg *config.Config, profiles ProfileSource) *Engine {
	weightsCache := NewWeightsCache(stores.Weights, 5*time.Minute)

	e := &Engine{
		cfg:          cfg,
		weightsCache: weightsCache,
		scorer:       NewSalienceScorer(weightsCache, profiles),
		attention:    NewAttentionWindow(stores.Sets, cfg.Attention, cfg.Decay),
		integrator:   NewContextIntegrator(stores.Contexts, cfg.Context),
		learner:      NewPatternLearner(stores.Patterns, cfg.Patterns),
		salience:     stores.Salience,
		timeline:     stores.Timeline,
	}
	if stores.Search != nil {
		e.ranker = NewRetrievalRanker(stores.Search, stores.Salience, stores.Relationships, stores.Timeline, cfg.Ranking, cfg.Decay)
	}
	return e
}

// SetExtractor installs the feature-extraction boundary used by CaptureText.
func (e *Engine) SetExtractor(x extract.Extractor) {
	e.extractor = x
}

// CaptureText extracts features from raw text, then scores and admits the
// capture. Extraction failures degrade to an all-default feature set so a
// flaky extractor never blocks capture.
func (e *Engine) CaptureText(ctx context.Context, userID, memoryID, text string, capture types.CaptureContext) (types.SalienceScore, error) {
	var features *types.ExtractedFeatures
	if e.extractor != nil {
		var err error
		features, err = e.extractor.Extract(ctx, text)
		if err != nil {
			log.Printf("engine: feature extraction failed for %s, capturing without features: %v", memoryID, err)
			features = &types.ExtractedFeatures{}
		}
	}
	return e.Capture(ctx, userID, memoryID, features, capture)
}

// Capture scores a new memory's salience, persists its signals, and admits
// it to the attention window when it clears the threshold. Commitments with
// due dates are additionally projected into the timeline read model.
func (e *Engine) Capture(ctx context.Context, userID, memoryID string, features *types.ExtractedFeatures, capture types.CaptureContext) (types.SalienceScore, error) {
	score, err := e.scorer.Score(ctx, userID, features, capture)
	if err != nil {
		return types.SalienceScore{}, fmt.Errorf("engine: failed to score capture %s: %w", memoryID, err)
	}

	capturedAt := capture.Timestamp
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	signals := &types.MemorySignals{
		MemoryID:     memoryID,
		UserID:       userID,
		BaseSalience: score.Overall,
		CapturedAt:   capturedAt,
	}
	if features != nil {
		for _, person := range features.People {
			signals.People = append(signals.People, person.Name)
		}
		signals.Topics = features.Topics
		signals.Commitments = features.Commitments
	}
	if err := e.salience.PutSignals(ctx, signals); err != nil {
		return score, fmt.Errorf("engine: failed to persist signals for %s: %w", memoryID, err)
	}

	if e.timeline != nil && features != nil {
		for _, c := range features.Commitments {
			if c.DueDate == nil {
				continue
			}
			row := &storage.TimelineCommitment{
				UserID:      userID,
				MemoryID:    memoryID,
				Description: c.Description,
				DueDate:     *c.DueDate,
			}
			if err := e.timeline.PutCommitment(ctx, row); err != nil {
				return score, fmt.Errorf("engine: failed to project commitment for %s: %w", memoryID, err)
			}
		}
	}

	if _, err := e.attention.Add(ctx, userID, memoryID, score.Overall); err != nil {
		return score, err
	}
	return score, nil
}

// UpdateDeviceContext records a device observation and refreshes the
// attention window against the recomputed unified context using the user's
// stored memory signals.
func (e *Engine) UpdateDeviceContext(ctx context.Context, frame *types.DeviceContextFrame) error {
	return e.integrator.UpdateDeviceContext(ctx, frame)
}

// CurrentContext returns the user's unified context, or (nil, nil) when no
// device has reported recently.
func (e *Engine) CurrentContext(ctx context.Context, userID string) (*types.UnifiedUserContext, error) {
	return e.integrator.GetUnifiedContext(ctx, userID)
}

// RefreshAttention reconciles the user's attention window against their
// current unified context.
func (e *Engine) RefreshAttention(ctx context.Context, userID string) (RefreshCounts, error) {
	unified, err := e.integrator.GetUnifiedContext(ctx, userID)
	if err != nil {
		return RefreshCounts{}, err
	}
	candidates, err := e.salience.ListByUser(ctx, userID)
	if err != nil {
		return RefreshCounts{}, fmt.Errorf("engine: failed to list signals for %s: %w", userID, err)
	}
	return e.attention.RefreshForContext(ctx, userID, unified, candidates)
}

// Attention exposes the attention window for direct reads.
func (e *Engine) Attention() *AttentionWindow {
	return e.attention
}

// Patterns exposes the pattern learner.
func (e *Engine) Patterns() *PatternLearner {
	return e.learner
}

// Integrator exposes the context integrator, including its error channel.
func (e *Engine) Integrator() *ContextIntegrator {
	return e.integrator
}

// InvalidateWeights drops a user's cached weight vector after external
// recalibration.
func (e *Engine) InvalidateWeights(userID string) {
	e.weightsCache.Invalidate(userID)
}

// Retrieve ranks memories for a query embedding under the given temporal
// focus. Returns ErrSearchDisabled when no semantic index is configured.
func (e *Engine) Retrieve(ctx context.Context, userID string, embedding []float32, limit int, focus string) ([]types.RankedResult, error) {
	if e.ranker == nil {
		return nil, ErrSearchDisabled
	}
	return e.ranker.Rank(ctx, userID, embedding, limit, focus)
}

// MarkRetrieved records retrieval reinforcement for a memory. No-op without
// a configured ranker backend.
func (e *Engine) MarkRetrieved(ctx context.Context, userID, memoryID string) {
	if e.ranker == nil {
		return
	}
	e.ranker.MarkRetrieved(ctx, userID, memoryID)
}

// ObservePattern records the user's current context as a pattern occurrence,
// folding in the capture's extracted features plus explicitly mentioned
// people and discussed topics alongside the accessed memories.
func (e *Engine) ObservePattern(ctx context.Context, userID string, features *types.ExtractedFeatures, memoryIDs, mentionedPeople, discussedTopics []string) (*types.LearnedPattern, error) {
	unified, err := e.integrator.GetUnifiedContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.learner.Observe(ctx, userID, Observation{
		Context:          unified,
		Features:         features,
		AccessedMemories: memoryIDs,
		MentionedPeople:  mentionedPeople,
		DiscussedTopics:  discussedTopics,
	})
}

// Anticipate predicts what is about to matter for the user, folding in
// upcoming calendar events.
func (e *Engine) Anticipate(ctx context.Context, userID string, events []types.CalendarEvent) ([]types.ContextPrediction, error) {
	return e.learner.AnticipatedContext(ctx, userID, time.Now(), events)
}
