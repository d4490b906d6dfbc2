package types

import "time"

// Pattern lifecycle states. Transitions are one-directional: a pattern never
// reverts to an earlier state.
const (
	PatternUnformed = "unformed"
	PatternForming  = "forming"
	PatternFormed   = "formed"
)

// LearnedPattern is a recurring context signature observed over time. It
// grows monotonically in occurrences and is never hard-deleted; irrelevant
// patterns fade through confidence and reward, not removal.
type LearnedPattern struct {
	// ID is the pattern's unique identifier.
	ID string `json:"id"`

	// UserID is the owning user.
	UserID string `json:"user_id"`

	// Signature is the feature signature key
	// (time-of-day bucket x day-of-week x location x activity).
	Signature string `json:"signature"`

	// Occurrences counts how many times the signature has been observed.
	Occurrences int `json:"occurrences"`

	// FirstSeen is when the signature was first observed.
	FirstSeen time.Time `json:"first_seen"`

	// LastSeen is when the signature was most recently observed.
	LastSeen time.Time `json:"last_seen"`

	// Confidence is the deterministic function of occurrences and elapsed
	// days (0.0 to 1.0, capped below 1.0 once formed).
	Confidence float64 `json:"confidence"`

	// IsFormed becomes true once the pattern has been observed for at least
	// the formation period with enough occurrences. It never reverts.
	IsFormed bool `json:"is_formed"`

	// RewardSignal is the feedback-derived scalar (-1.0 to 1.0) used to
	// suppress predictions users have ignored or dismissed.
	RewardSignal float64 `json:"reward_signal"`

	// People are the people most associated with this signature.
	People []string `json:"people,omitempty"`

	// Topics are the topics most associated with this signature.
	Topics []string `json:"topics,omitempty"`

	// Memories are recently accessed memory IDs under this signature.
	Memories []string `json:"memories,omitempty"`
}

// State returns the lifecycle state derived from the pattern's counters.
func (p *LearnedPattern) State(occurrenceFloor int) string {
	if p.IsFormed {
		return PatternFormed
	}
	if p.Occurrences < occurrenceFloor {
		return PatternUnformed
	}
	return PatternForming
}

// DaysObserved returns the whole days between FirstSeen and LastSeen,
// never less than 1 so formed-confidence ratios stay defined.
func (p *LearnedPattern) DaysObserved() int {
	days := int(p.LastSeen.Sub(p.FirstSeen).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// Feedback outcomes accepted by RecordFeedback.
const (
	FeedbackUsed      = "used"
	FeedbackIgnored   = "ignored"
	FeedbackDismissed = "dismissed"
)

// PatternFeedback is an explicit user signal about a surfaced prediction.
type PatternFeedback struct {
	// Signature identifies the pattern the feedback applies to.
	Signature string `json:"signature"`

	// Outcome is one of FeedbackUsed, FeedbackIgnored, FeedbackDismissed.
	Outcome string `json:"outcome"`
}

// CalendarEvent is an upcoming event fed into anticipation.
type CalendarEvent struct {
	// Title is the event title.
	Title string `json:"title"`

	// StartsAt is when the event begins.
	StartsAt time.Time `json:"starts_at"`

	// Location is the event location, if known.
	Location string `json:"location,omitempty"`

	// People are expected attendees.
	People []string `json:"people,omitempty"`
}

// ContextPrediction is one "about to matter" answer from the pattern learner.
type ContextPrediction struct {
	// Signature is the pattern behind the prediction.
	Signature string `json:"signature"`

	// Confidence is the pattern's confidence at prediction time.
	Confidence float64 `json:"confidence"`

	// People are people likely to be relevant.
	People []string `json:"people,omitempty"`

	// Topics are topics likely to be relevant.
	Topics []string `json:"topics,omitempty"`

	// Memories are memory IDs historically accessed under this signature.
	Memories []string `json:"memories,omitempty"`

	// Reason explains why the prediction fired.
	Reason string `json:"reason"`
}
