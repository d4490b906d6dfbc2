package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/focalhq/focal/internal/config"
	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/pkg/types"
)

// Boost caps. Boosts are additive on top of the base blend and individually
// capped so no single signal can dominate semantic relevance.
const (
	maxEventBoost        = 0.15
	maxDeadlineBoost     = 0.15
	maxRelationshipBoost = 0.10

	// boostHorizon is how far ahead events and deadlines are considered.
	boostHorizon = 7 * 24 * time.Hour

	// relationshipRecencyWindow is how long after the last interaction an
	// active relationship keeps boosting.
	relationshipRecencyWindow = 30 * 24 * time.Hour
)

// RetrievalRanker blends semantic similarity with decayed salience and
// layers temporal-focus adjustments and capped contextual boosts on top.
type RetrievalRanker struct {
	search        storage.SemanticSearchProvider
	salience      storage.SalienceStore
	relationships storage.RelationshipStore
	timeline      storage.TimelineStore
	ranking       config.RankingConfig
	decay         config.DecayConfig
}

// NewRetrievalRanker creates a ranker. relationships may be nil, which
// disables event and relationship boosts; timeline may be nil, which limits
// deadline boosts to candidate-carried commitments.
func NewRetrievalRanker(search storage.SemanticSearchProvider, salience storage.SalienceStore, relationships storage.RelationshipStore, timeline storage.TimelineStore, ranking config.RankingConfig, decay config.DecayConfig) *RetrievalRanker {
	if ranking.SemanticWeight <= 0 && ranking.SalienceWeight <= 0 {
		ranking.SemanticWeight = 0.6
		ranking.SalienceWeight = 0.4
	}
	return &RetrievalRanker{
		search:        search,
		salience:      salience,
		relationships: relationships,
		timeline:      timeline,
		ranking:       ranking,
		decay:         decay,
	}
}

// Rank runs a semantic search and re-ranks the candidates. focus selects a
// temporal adjustment mode; unrecognised values behave as FocusDefault.
//
// Relationship snapshot loads are best-effort: on failure the ranking
// proceeds without person-derived boosts.
func (r *RetrievalRanker) Rank(ctx context.Context, userID string, embedding []float32, limit int, focus string) ([]types.RankedResult, error) {
	if limit <= 0 {
		limit = 20
	}

	// Over-fetch so re-ranking has room to promote beyond the raw
	// similarity order.
	candidates, err := r.search.Search(ctx, userID, embedding, limit*3)
	if err != nil {
		return nil, fmt.Errorf("ranker: semantic search failed: %w", err)
	}
	if len(candidates) == 0 {
		return []types.RankedResult{}, nil
	}

	snapshots := r.loadSnapshots(ctx, userID)
	deadlines := r.loadDeadlines(ctx, userID)
	now := time.Now()

	results := make([]types.RankedResult, 0, len(candidates))
	for _, candidate := range candidates {
		results = append(results, r.score(candidate, snapshots, deadlines, focus, now))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// score computes one candidate's blended score and component breakdown.
func (r *RetrievalRanker) score(candidate types.SearchCandidate, snapshots map[string]types.RelationshipSnapshot, deadlines map[string][]types.Commitment, focus string, now time.Time) types.RankedResult {
	// Candidates missing denormalized commitments fall back to the timeline
	// read model.
	if len(candidate.Commitments) == 0 {
		candidate.Commitments = deadlines[candidate.MemoryID]
	}

	ageDays := now.Sub(candidate.CapturedAt).Hours() / 24
	decayed := candidate.Salience * DecayModifier(ageDays, r.decay.RatePerDay, r.decay.Floor)

	components := types.RankComponents{
		Semantic: r.ranking.SemanticWeight * clamp01(candidate.Similarity),
		Salience: r.ranking.SalienceWeight * (decayed / maxSalience),
		Temporal: temporalAdjustment(focus, ageDays, candidate, now),
	}
	components.EventBoost, components.RelationshipBoost = personBoosts(candidate.People, snapshots, now)
	components.DeadlineBoost = deadlineBoost(candidate.Commitments, now)

	score := components.Semantic + components.Salience + components.Temporal +
		components.EventBoost + components.DeadlineBoost + components.RelationshipBoost

	return types.RankedResult{
		Candidate:  candidate,
		Score:      clamp01(score),
		Components: components,
	}
}

// temporalAdjustment maps the focus mode and candidate age to an additive
// adjustment. Adjustments may be negative: historical focus actively demotes
// fresh memories and this-week focus demotes older ones.
func temporalAdjustment(focus string, ageDays float64, candidate types.SearchCandidate, now time.Time) float64 {
	switch focus {
	case types.FocusRecent:
		if ageDays <= 30 {
			return 0.2 * (1 - ageDays/30)
		}
		return 0
	case types.FocusThisWeek:
		if ageDays <= 7 {
			return 0.15
		}
		return -0.05
	case types.FocusHistorical:
		if ageDays >= 180 {
			return 0.15
		}
		if ageDays < 30 {
			return -0.1
		}
		return 0
	case types.FocusUpcoming:
		for _, c := range candidate.Commitments {
			if c.Open(now) {
				return 0.2
			}
		}
		return 0
	default:
		return 0
	}
}

// personBoosts derives the event and relationship boosts from the
// candidate's people. Any upcoming event within the horizon grants the full
// event boost; the relationship boost fades linearly with time since the
// last interaction. Dormant relationships contribute nothing at all.
func personBoosts(people []string, snapshots map[string]types.RelationshipSnapshot, now time.Time) (event, relationship float64) {
	for _, name := range people {
		snapshot, ok := snapshots[strings.ToLower(name)]
		if !ok || snapshot.Pattern == types.RelationshipDormant {
			continue
		}

		for _, ev := range snapshot.UpcomingEvents {
			until := ev.StartsAt.Sub(now)
			if until > 0 && until <= boostHorizon {
				event = maxEventBoost
				break
			}
		}

		since := now.Sub(snapshot.LastInteraction)
		if since >= 0 && since < relationshipRecencyWindow {
			b := maxRelationshipBoost * (1 - since.Hours()/relationshipRecencyWindow.Hours())
			if b > relationship {
				relationship = b
			}
		}
	}
	return event, relationship
}

// deadlineBoost scales with the proximity of the nearest open commitment
// due within the horizon.
func deadlineBoost(commitments []types.Commitment, now time.Time) float64 {
	boost := 0.0
	for _, c := range commitments {
		if c.DueDate == nil {
			continue
		}
		until := c.DueDate.Sub(now)
		if until <= 0 || until > boostHorizon {
			continue
		}
		b := maxDeadlineBoost * (1 - until.Hours()/boostHorizon.Hours())
		if b > boost {
			boost = b
		}
	}
	return boost
}

// loadDeadlines preloads the user's open commitments due within the boost
// horizon, keyed by source memory. Failures degrade to candidate-carried
// commitments only.
func (r *RetrievalRanker) loadDeadlines(ctx context.Context, userID string) map[string][]types.Commitment {
	if r.timeline == nil {
		return nil
	}
	rows, err := r.timeline.OpenCommitments(ctx, userID, boostHorizon)
	if err != nil {
		log.Printf("ranker: failed to load open commitments for %s: %v", userID, err)
		return nil
	}
	deadlines := make(map[string][]types.Commitment, len(rows))
	for _, row := range rows {
		due := row.DueDate
		deadlines[row.MemoryID] = append(deadlines[row.MemoryID], types.Commitment{
			Description: row.Description,
			DueDate:     &due,
		})
	}
	return deadlines
}

// loadSnapshots preloads the user's relationship snapshots keyed by
// lowercased person name. Failures degrade to no boosts.
func (r *RetrievalRanker) loadSnapshots(ctx context.Context, userID string) map[string]types.RelationshipSnapshot {
	if r.relationships == nil {
		return nil
	}
	list, err := r.relationships.ListSnapshots(ctx, userID)
	if err != nil {
		log.Printf("ranker: failed to load relationship snapshots for %s: %v", userID, err)
		return nil
	}
	snapshots := make(map[string]types.RelationshipSnapshot, len(list))
	for _, s := range list {
		snapshots[strings.ToLower(s.Person)] = s
	}
	return snapshots
}

// MarkRetrieved records a retrieval event: the stored base salience is
// boosted with diminishing returns, the retrieval count is incremented, and
// the event is logged for telemetry. Every step is best-effort; retrieval
// reinforcement must never fail a read path.
func (r *RetrievalRanker) MarkRetrieved(ctx context.Context, userID, memoryID string) {
	signals, err := r.salience.GetSignals(ctx, memoryID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("ranker: failed to load signals for %s: %v", memoryID, err)
		}
		return
	}

	boosted := RetrievalBoost(signals.BaseSalience, signals.RetrievalCount)
	if err := r.salience.ApplyRetrievalBoost(ctx, memoryID, boosted); err != nil {
		log.Printf("ranker: failed to apply retrieval boost for %s: %v", memoryID, err)
		return
	}
	if err := r.salience.LogRetrieval(ctx, userID, memoryID, time.Now()); err != nil {
		log.Printf("ranker: failed to log retrieval for %s: %v", memoryID, err)
	}
}
