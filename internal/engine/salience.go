package engine

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/focalhq/focal/pkg/types"
)

// SalienceScorer computes the five-component salience score for a memory at
// capture time. Weights come from the per-user cache; the interest profile
// feeds the novelty and relevance components.
type SalienceScorer struct {
	weights  *WeightsCache
	profiles ProfileSource
}

// ProfileSource supplies the user's long-lived interest profile. A nil
// profile is valid and degrades novelty/relevance toward zero.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*types.InterestProfile, error)
}

// NewSalienceScorer creates a scorer. profiles may be nil when no interest
// model is available; affected components then score conservatively.
func NewSalienceScorer(weights *WeightsCache, profiles ProfileSource) *SalienceScorer {
	return &SalienceScorer{weights: weights, profiles: profiles}
}

// Score computes the salience for a capture using the user's cached weights
// and interest profile. Profile fetch failures are non-fatal: scoring
// proceeds without a profile.
func (s *SalienceScorer) Score(ctx context.Context, userID string, features *types.ExtractedFeatures, capture types.CaptureContext) (types.SalienceScore, error) {
	weights, err := s.weights.Get(ctx, userID)
	if err != nil {
		return types.SalienceScore{}, err
	}

	var profile *types.InterestProfile
	if s.profiles != nil {
		profile, _ = s.profiles.GetProfile(ctx, userID)
	}

	return ComputeSalience(features, capture, profile, weights), nil
}

// ComputeSalience combines extracted features, capture context, and the
// interest profile into a salience score. Each component is computed
// independently in [0, 100]; missing or empty feature fields degrade the
// affected component to zero, never raise an error.
func ComputeSalience(features *types.ExtractedFeatures, capture types.CaptureContext, profile *types.InterestProfile, weights types.SalienceWeights) types.SalienceScore {
	if features == nil {
		features = &types.ExtractedFeatures{}
	}
	w := weights.Normalize()

	score := types.SalienceScore{
		Emotional:     emotionalComponent(features),
		Novelty:       noveltyComponent(capture, profile),
		Relevance:     relevanceComponent(features, profile),
		Social:        socialComponent(features),
		Consequential: consequentialComponent(features, capture.Timestamp),
		ComputedAt:    time.Now(),
	}

	score.Overall = clamp100(
		w.Emotional*score.Emotional +
			w.Novelty*score.Novelty +
			w.Relevance*score.Relevance +
			w.Social*score.Social +
			w.Consequential*score.Consequential)

	return score
}

// emotionalComponent scores emotional keyword density, sentiment magnitude,
// intensity, and sensitive relationship events.
func emotionalComponent(f *types.ExtractedFeatures) float64 {
	score := math.Min(40, float64(len(f.EmotionalKeywords))*8)
	score += math.Abs(f.Sentiment) * 25
	score += clamp01(f.EmotionalIntensity) * 20

	for _, event := range f.RelationshipEvents {
		if event.Sensitive {
			score += 15
		}
	}

	return clamp100(score)
}

// noveltyComponent boosts new locations and context types that are
// statistically uncommon for the user.
func noveltyComponent(capture types.CaptureContext, profile *types.InterestProfile) float64 {
	score := 0.0
	if capture.IsLocationNew {
		score += 50
	}

	if capture.ContextType != "" {
		if profile != nil && profile.TotalContexts > 0 {
			// Rarely-seen context types score higher.
			freq := profile.ContextTypeFrequency(capture.ContextType)
			score += 50 * (1 - clamp01(freq))
		} else {
			// No statistics yet: treat the type as mildly novel.
			score += 25
		}
	}

	return clamp100(score)
}

// relevanceComponent measures overlap between extracted topics/people and
// the user's interest profile.
func relevanceComponent(f *types.ExtractedFeatures, profile *types.InterestProfile) float64 {
	if profile == nil {
		return 0
	}

	topicScore := 0.0
	if len(f.Topics) > 0 && len(profile.Topics) > 0 {
		sum := 0.0
		for _, topic := range f.Topics {
			sum += clamp01(profile.Topics[strings.ToLower(topic)])
		}
		topicScore = sum / float64(len(f.Topics))
	}

	peopleScore := 0.0
	if len(f.People) > 0 && len(profile.People) > 0 {
		sum := 0.0
		for _, person := range f.People {
			sum += clamp01(profile.People[strings.ToLower(person.Name)])
		}
		peopleScore = sum / float64(len(f.People))
	}

	return clamp100((topicScore*0.6 + peopleScore*0.4) * 100)
}

// socialComponent scales with distinct people mentioned, intimacy signals,
// and conflict markers.
func socialComponent(f *types.ExtractedFeatures) float64 {
	if len(f.People) == 0 {
		return 0
	}

	distinct := make(map[string]struct{}, len(f.People))
	intimacySum := 0.0
	conflict := false
	for _, person := range f.People {
		distinct[strings.ToLower(person.Name)] = struct{}{}
		intimacySum += clamp01(person.Intimacy)
		if person.Conflict {
			conflict = true
		}
	}

	score := math.Min(50, float64(len(distinct))*15)
	score += (intimacySum / float64(len(f.People))) * 30
	if conflict {
		score += 20
	}

	return clamp100(score)
}

// consequentialComponent scales with presence of commitments and the
// proximity of their due dates.
func consequentialComponent(f *types.ExtractedFeatures, capturedAt time.Time) float64 {
	if len(f.Commitments) == 0 {
		return 0
	}
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	score := math.Min(40, float64(len(f.Commitments))*20)

	// Urgency: the nearest future due date within a week dominates.
	urgency := 0.0
	for _, c := range f.Commitments {
		if c.DueDate == nil {
			continue
		}
		until := c.DueDate.Sub(capturedAt)
		if until <= 0 || until > 7*24*time.Hour {
			continue
		}
		u := 60 * (1 - until.Hours()/(7*24))
		if u > urgency {
			urgency = u
		}
	}

	return clamp100(score + urgency)
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > maxSalience {
		return maxSalience
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
