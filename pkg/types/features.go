// Package types defines the shared value objects for the Focal salience engine:
// extracted content features, capture context, salience scores, device context
// frames, unified user context, and learned patterns.
package types

import "time"

// ExtractedFeatures is the structured output of the external feature extractor.
// The engine consumes it as an opaque value object: every field may be empty,
// and each scoring component degrades to zero rather than failing when its
// inputs are absent.
type ExtractedFeatures struct {
	// EmotionalKeywords are emotion-bearing words found in the content.
	EmotionalKeywords []string `json:"emotional_keywords,omitempty"`

	// EmotionalIntensity is the extractor's estimate of emotional charge (0.0 to 1.0).
	EmotionalIntensity float64 `json:"emotional_intensity,omitempty"`

	// Sentiment is the overall sentiment polarity (-1.0 to 1.0).
	Sentiment float64 `json:"sentiment,omitempty"`

	// People are the people mentioned in the content.
	People []PersonMention `json:"people,omitempty"`

	// Topics are the subjects the content is about.
	Topics []string `json:"topics,omitempty"`

	// Commitments are action items or promises with optional due dates.
	Commitments []Commitment `json:"commitments,omitempty"`

	// Dates are explicit dates referenced by the content.
	Dates []time.Time `json:"dates,omitempty"`

	// RelationshipEvents are interpersonal events (argument, reconciliation,
	// milestone) detected in the content.
	RelationshipEvents []RelationshipEvent `json:"relationship_events,omitempty"`
}

// PersonMention is a single person reference extracted from content.
type PersonMention struct {
	// Name is the person's name as mentioned.
	Name string `json:"name"`

	// Intimacy estimates closeness of the relationship (0.0 to 1.0).
	Intimacy float64 `json:"intimacy,omitempty"`

	// Conflict is true when the mention carries conflict markers.
	Conflict bool `json:"conflict,omitempty"`
}

// Commitment is an action item or promise attached to a memory.
type Commitment struct {
	// Description is the commitment text.
	Description string `json:"description"`

	// DueDate is when the commitment is due, if known.
	DueDate *time.Time `json:"due_date,omitempty"`
}

// Open reports whether the commitment is still actionable relative to now:
// it has a due date that has not yet passed.
func (c Commitment) Open(now time.Time) bool {
	return c.DueDate != nil && c.DueDate.After(now)
}

// RelationshipEvent is an interpersonal event detected in content.
type RelationshipEvent struct {
	// Person is the other party of the event.
	Person string `json:"person"`

	// Kind classifies the event (e.g. "argument", "milestone", "loss").
	Kind string `json:"kind"`

	// Sensitive marks events that should weigh heavily on emotional salience.
	Sensitive bool `json:"sensitive,omitempty"`
}

// CaptureContext is the immutable snapshot of circumstances at ingestion time.
// It is created once when a memory is captured and never mutated.
type CaptureContext struct {
	// Timestamp is when the memory was captured.
	Timestamp time.Time `json:"timestamp"`

	// Location is the location name at capture time, if known.
	Location string `json:"location,omitempty"`

	// IsLocationNew is true when the location had not been seen for this user before.
	IsLocationNew bool `json:"is_location_new,omitempty"`

	// ContextType classifies the capture situation (e.g. "work", "travel", "home").
	ContextType string `json:"context_type,omitempty"`
}
