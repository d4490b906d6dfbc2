package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/focalhq/focal/internal/config"
	"github.com/focalhq/focal/internal/storage"
	"github.com/focalhq/focal/pkg/types"
)

// patternMemoryCap bounds how many recent memory IDs a pattern retains.
const patternMemoryCap = 20

// formedConfidenceCap keeps formed-pattern confidence below certainty.
const formedConfidenceCap = 0.95

// PatternLearner accumulates recurring context signatures and answers
// "what is about to matter" from formed patterns and upcoming events.
//
// Patterns only grow: occurrences are monotonic and nothing is hard-deleted.
// Irrelevant patterns fade through the reward signal instead.
type PatternLearner struct {
	patterns storage.PatternStore
	cfg      config.PatternConfig
}

// NewPatternLearner creates a learner over the given pattern store.
func NewPatternLearner(patterns storage.PatternStore, cfg config.PatternConfig) *PatternLearner {
	if cfg.FormationDays <= 0 {
		cfg.FormationDays = 21
	}
	if cfg.OccurrenceFloor <= 0 {
		cfg.OccurrenceFloor = 5
	}
	if cfg.PredictionThreshold <= 0 {
		cfg.PredictionThreshold = 0.6
	}
	return &PatternLearner{patterns: patterns, cfg: cfg}
}

// Signature builds the canonical feature signature for a point in time plus
// location and activity. Empty dimensions are kept as placeholders so the
// key shape stays stable.
func Signature(at time.Time, location, activity string) string {
	parts := []string{
		timeOfDayBucket(at),
		strings.ToLower(at.Weekday().String()),
		signaturePart(location),
		signaturePart(activity),
	}
	return strings.Join(parts, "|")
}

func signaturePart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "/")
}

// timeOfDayBucket maps an hour to a coarse bucket. Coarse on purpose: finer
// buckets fragment the occurrence counts and nothing ever forms.
func timeOfDayBucket(at time.Time) string {
	switch hour := at.Hour(); {
	case hour >= 5 && hour < 11:
		return "morning"
	case hour >= 11 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 22:
		return "evening"
	default:
		return "night"
	}
}

// SignatureFor derives the signature from a unified context at the time it
// was computed.
func SignatureFor(uc *types.UnifiedUserContext) string {
	if uc == nil {
		return Signature(time.Now(), "", "")
	}
	location := ""
	if uc.Location != nil {
		location = uc.Location.Name
	}
	activity := ""
	if uc.Activity != nil {
		activity = uc.Activity.Primary
	}
	at := uc.ComputedAt
	if at.IsZero() {
		at = time.Now()
	}
	return Signature(at, location, activity)
}

// Observation is one pattern-learning input: the context the signature is
// derived from plus the signals observed alongside it.
type Observation struct {
	// Context is the unified context at observation time.
	Context *types.UnifiedUserContext

	// Features are the triggering capture's extracted features, if any.
	Features *types.ExtractedFeatures

	// AccessedMemories are memory IDs accessed under this context.
	AccessedMemories []string

	// MentionedPeople are people explicitly mentioned, beyond those the
	// context fusion detected.
	MentionedPeople []string

	// DiscussedTopics are topics explicitly discussed.
	DiscussedTopics []string
}

// Observe records one occurrence of the observation's context signature,
// folding its people, topics, and memories into the pattern. Returns the
// updated pattern.
func (l *PatternLearner) Observe(ctx context.Context, userID string, obs Observation) (*types.LearnedPattern, error) {
	signature := SignatureFor(obs.Context)
	now := time.Now()

	pattern, err := l.patterns.GetBySignature(ctx, userID, signature)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		pattern = &types.LearnedPattern{
			ID:        uuid.NewString(),
			UserID:    userID,
			Signature: signature,
			FirstSeen: now,
		}
	case err != nil:
		return nil, fmt.Errorf("patterns: failed to load %q: %w", signature, err)
	}

	pattern.Occurrences++
	pattern.LastSeen = now
	if uc := obs.Context; uc != nil {
		for _, person := range uc.People {
			pattern.People = appendUnique(pattern.People, person.Name)
		}
		if uc.Activity != nil {
			pattern.Topics = appendUnique(pattern.Topics, uc.Activity.Primary)
		}
	}
	if obs.Features != nil {
		for _, person := range obs.Features.People {
			pattern.People = appendUnique(pattern.People, person.Name)
		}
		for _, topic := range obs.Features.Topics {
			pattern.Topics = appendUnique(pattern.Topics, topic)
		}
	}
	for _, person := range obs.MentionedPeople {
		pattern.People = appendUnique(pattern.People, person)
	}
	for _, topic := range obs.DiscussedTopics {
		pattern.Topics = appendUnique(pattern.Topics, topic)
	}
	for _, id := range obs.AccessedMemories {
		pattern.Memories = appendUnique(pattern.Memories, id)
	}
	if len(pattern.Memories) > patternMemoryCap {
		pattern.Memories = pattern.Memories[len(pattern.Memories)-patternMemoryCap:]
	}

	l.reassess(pattern, now)

	if err := l.patterns.Upsert(ctx, pattern); err != nil {
		return nil, fmt.Errorf("patterns: failed to store %q: %w", signature, err)
	}
	return pattern, nil
}

// reassess recomputes confidence and formation from the pattern's counters.
// Formation is one-way: once formed, a pattern stays formed.
func (l *PatternLearner) reassess(pattern *types.LearnedPattern, now time.Time) {
	elapsedDays := int(now.Sub(pattern.FirstSeen).Hours() / 24)
	if !pattern.IsFormed &&
		elapsedDays >= l.cfg.FormationDays &&
		pattern.Occurrences >= l.cfg.OccurrenceFloor {
		pattern.IsFormed = true
	}

	if pattern.IsFormed {
		ratio := float64(pattern.Occurrences) / float64(pattern.DaysObserved())
		if ratio > formedConfidenceCap {
			ratio = formedConfidenceCap
		}
		pattern.Confidence = ratio
		return
	}

	// Pre-formation ramp, purely occurrence-driven.
	switch floor := l.cfg.OccurrenceFloor; {
	case pattern.Occurrences < floor:
		pattern.Confidence = 0.2
	case pattern.Occurrences < 2*floor:
		pattern.Confidence = 0.4
	case pattern.Occurrences < 3*floor:
		pattern.Confidence = 0.6
	default:
		pattern.Confidence = 0.8
	}
}

// RecordFeedback folds an explicit user signal into the pattern's reward.
// Used predictions reinforce; ignored ones decay mildly; dismissals cut
// hard. The reward is clamped to [-1, 1].
func (l *PatternLearner) RecordFeedback(ctx context.Context, userID string, feedback types.PatternFeedback) error {
	pattern, err := l.patterns.GetBySignature(ctx, userID, feedback.Signature)
	if err != nil {
		return fmt.Errorf("patterns: failed to load %q for feedback: %w", feedback.Signature, err)
	}

	var delta float64
	switch feedback.Outcome {
	case types.FeedbackUsed:
		delta = 0.1
	case types.FeedbackIgnored:
		delta = -0.05
	case types.FeedbackDismissed:
		delta = -0.15
	default:
		return fmt.Errorf("patterns: %w: unknown feedback outcome %q", storage.ErrInvalidInput, feedback.Outcome)
	}

	pattern.RewardSignal += delta
	if pattern.RewardSignal > 1 {
		pattern.RewardSignal = 1
	}
	if pattern.RewardSignal < -1 {
		pattern.RewardSignal = -1
	}

	if err := l.patterns.Upsert(ctx, pattern); err != nil {
		return fmt.Errorf("patterns: failed to store feedback for %q: %w", feedback.Signature, err)
	}
	return nil
}

// AnticipatedContext predicts what is about to matter at the given instant.
// Two sources feed it: formed patterns whose time-of-day and weekday match
// now, and upcoming calendar events whose attendees intersect a formed
// pattern's people. Predictions below the confidence threshold or with a
// negative reward signal are suppressed.
func (l *PatternLearner) AnticipatedContext(ctx context.Context, userID string, at time.Time, upcoming []types.CalendarEvent) ([]types.ContextPrediction, error) {
	patterns, err := l.patterns.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("patterns: failed to list for %s: %w", userID, err)
	}

	bucket := timeOfDayBucket(at)
	weekday := strings.ToLower(at.Weekday().String())
	prefix := bucket + "|" + weekday + "|"

	var predictions []types.ContextPrediction
	for i := range patterns {
		pattern := &patterns[i]
		if !l.predictable(pattern) {
			continue
		}

		if strings.HasPrefix(pattern.Signature, prefix) {
			predictions = append(predictions, types.ContextPrediction{
				Signature:  pattern.Signature,
				Confidence: pattern.Confidence,
				People:     pattern.People,
				Topics:     pattern.Topics,
				Memories:   pattern.Memories,
				Reason:     fmt.Sprintf("recurring %s %s context", weekday, bucket),
			})
			continue
		}

		if event, ok := matchEvent(pattern, upcoming, at); ok {
			predictions = append(predictions, types.ContextPrediction{
				Signature:  pattern.Signature,
				Confidence: pattern.Confidence,
				People:     pattern.People,
				Topics:     pattern.Topics,
				Memories:   pattern.Memories,
				Reason:     fmt.Sprintf("upcoming event %q involves familiar people", event.Title),
			})
		}
	}

	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Confidence > predictions[j].Confidence
	})
	return predictions, nil
}

// predictable gates which patterns may produce predictions.
func (l *PatternLearner) predictable(pattern *types.LearnedPattern) bool {
	return pattern.IsFormed &&
		pattern.Confidence >= l.cfg.PredictionThreshold &&
		pattern.RewardSignal >= 0
}

// matchEvent returns the first event within the next day whose attendees
// intersect the pattern's people.
func matchEvent(pattern *types.LearnedPattern, events []types.CalendarEvent, at time.Time) (types.CalendarEvent, bool) {
	known := make(map[string]struct{}, len(pattern.People))
	for _, person := range pattern.People {
		known[strings.ToLower(person)] = struct{}{}
	}
	for _, event := range events {
		until := event.StartsAt.Sub(at)
		if until <= 0 || until > 24*time.Hour {
			continue
		}
		for _, attendee := range event.People {
			if _, ok := known[strings.ToLower(attendee)]; ok {
				return event, true
			}
		}
	}
	return types.CalendarEvent{}, false
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing, value) {
			return list
		}
	}
	return append(list, value)
}
