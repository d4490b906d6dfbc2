package types

import "time"

// Temporal focus modes for retrieval ranking. Each applies a distinct
// age-dependent adjustment on top of the base score.
const (
	FocusDefault    = "default"
	FocusRecent     = "recent"
	FocusThisWeek   = "this_week"
	FocusHistorical = "historical"
	FocusUpcoming   = "upcoming"
)

// SearchCandidate is one semantic-search hit handed to the ranker, carrying
// the stored signals needed for salience, decay, and boost computation.
type SearchCandidate struct {
	// MemoryID identifies the candidate memory.
	MemoryID string `json:"memory_id"`

	// Similarity is the semantic similarity to the query (0.0 to 1.0).
	Similarity float64 `json:"similarity"`

	// Salience is the stored base overall salience (0 to 100).
	Salience float64 `json:"salience"`

	// CapturedAt is when the memory was captured.
	CapturedAt time.Time `json:"captured_at"`

	// RetrievalCount is how many times the memory has been retrieved.
	RetrievalCount int `json:"retrieval_count"`

	// People are the people the memory mentions.
	People []string `json:"people,omitempty"`

	// Topics are the memory's subjects.
	Topics []string `json:"topics,omitempty"`

	// Commitments are action items attached to the memory.
	Commitments []Commitment `json:"commitments,omitempty"`
}

// RankedResult is a candidate with its final blended score and the component
// breakdown used to explain the ranking.
type RankedResult struct {
	// Candidate is the ranked memory.
	Candidate SearchCandidate `json:"candidate"`

	// Score is the final blended score, clamped to [0.0, 1.0].
	Score float64 `json:"score"`

	// Components breaks the score into its factors.
	Components RankComponents `json:"components"`
}

// RankComponents breaks a final score into individual factors.
type RankComponents struct {
	// Semantic is the weighted semantic-similarity contribution.
	Semantic float64 `json:"semantic"`

	// Salience is the weighted decayed-salience contribution.
	Salience float64 `json:"salience"`

	// Temporal is the temporal-focus adjustment (may be negative).
	Temporal float64 `json:"temporal"`

	// EventBoost is the upcoming-event person boost.
	EventBoost float64 `json:"event_boost"`

	// DeadlineBoost is the commitment deadline-proximity boost.
	DeadlineBoost float64 `json:"deadline_boost"`

	// RelationshipBoost is the active-relationship recency boost.
	RelationshipBoost float64 `json:"relationship_boost"`
}

// Relationship pattern labels carried by RelationshipSnapshot. Boosts are
// skipped for dormant relationships.
const (
	RelationshipActive  = "active"
	RelationshipFading  = "fading"
	RelationshipDormant = "dormant"
)

// RelationshipSnapshot is the read model the ranker consults for
// person-derived boosts. It is refreshed by external maintenance, not by
// the ranker itself.
type RelationshipSnapshot struct {
	// UserID is the owning user.
	UserID string `json:"user_id"`

	// Person is the other party.
	Person string `json:"person"`

	// Pattern labels the relationship's activity pattern.
	Pattern string `json:"pattern"`

	// LastInteraction is the most recent interaction with the person.
	LastInteraction time.Time `json:"last_interaction"`

	// UpcomingEvents are known future events involving the person.
	UpcomingEvents []CalendarEvent `json:"upcoming_events,omitempty"`
}
