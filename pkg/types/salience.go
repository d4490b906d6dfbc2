package types

import "time"

// SalienceWeights is a per-user vector of five non-negative weights that sum
// to 1.0. It controls how the component scores combine into the overall
// salience score. Weights are learned by external recalibration; until then
// the uniform default applies.
type SalienceWeights struct {
	Emotional     float64 `json:"emotional"`
	Novelty       float64 `json:"novelty"`
	Relevance     float64 `json:"relevance"`
	Social        float64 `json:"social"`
	Consequential float64 `json:"consequential"`
}

// DefaultSalienceWeights returns the uniform weight vector used before a user
// has any learned weights.
func DefaultSalienceWeights() SalienceWeights {
	return SalienceWeights{
		Emotional:     0.2,
		Novelty:       0.2,
		Relevance:     0.2,
		Social:        0.2,
		Consequential: 0.2,
	}
}

// Normalize clamps negative weights to zero and rescales the vector to sum
// to 1.0. A vector that sums to zero is replaced by the uniform default.
func (w SalienceWeights) Normalize() SalienceWeights {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}

	n := SalienceWeights{
		Emotional:     clamp(w.Emotional),
		Novelty:       clamp(w.Novelty),
		Relevance:     clamp(w.Relevance),
		Social:        clamp(w.Social),
		Consequential: clamp(w.Consequential),
	}

	sum := n.Emotional + n.Novelty + n.Relevance + n.Social + n.Consequential
	if sum == 0 {
		return DefaultSalienceWeights()
	}

	n.Emotional /= sum
	n.Novelty /= sum
	n.Relevance /= sum
	n.Social /= sum
	n.Consequential /= sum
	return n
}

// SalienceScore is the immutable base salience attached to a memory at
// ingestion. All components and the overall score are in [0, 100].
// Retrieval-time decay produces a new effective value layered on top; the
// base is only rewritten through the explicit boost-on-retrieval path.
type SalienceScore struct {
	// Emotional reflects emotional keyword density, sentiment magnitude,
	// and sensitive relationship events.
	Emotional float64 `json:"emotional"`

	// Novelty reflects new locations and uncommon context types.
	Novelty float64 `json:"novelty"`

	// Relevance reflects overlap with the user's long-lived interest profile.
	Relevance float64 `json:"relevance"`

	// Social reflects distinct people mentioned, intimacy, and conflict markers.
	Social float64 `json:"social"`

	// Consequential reflects commitments and their urgency.
	Consequential float64 `json:"consequential"`

	// Overall is the weighted combination of the five components.
	Overall float64 `json:"overall"`

	// ComputedAt is when the score was calculated.
	ComputedAt time.Time `json:"computed_at"`
}

// AttentionEntry is one member of a user's attention window.
type AttentionEntry struct {
	// MemoryID identifies the memory in focus.
	MemoryID string `json:"memory_id"`

	// EffectiveSalience is the decayed, context-adjusted score at the time
	// the entry was last written.
	EffectiveSalience float64 `json:"effective_salience"`

	// LastUpdated is when the entry was last repositioned.
	LastUpdated time.Time `json:"last_updated"`
}

// MemorySignals carries the per-memory inputs the attention window and the
// ranker need: the stored base salience plus the lightweight topical signals
// used for context-relevance overlap.
type MemorySignals struct {
	// MemoryID identifies the memory.
	MemoryID string `json:"memory_id"`

	// UserID is the owning user.
	UserID string `json:"user_id"`

	// BaseSalience is the stored overall salience (0 to 100).
	BaseSalience float64 `json:"base_salience"`

	// CapturedAt is when the memory was captured; drives decay.
	CapturedAt time.Time `json:"captured_at"`

	// RetrievalCount is how many times the memory has been retrieved.
	RetrievalCount int `json:"retrieval_count"`

	// People are the names mentioned by the memory.
	People []string `json:"people,omitempty"`

	// Topics are the memory's subjects.
	Topics []string `json:"topics,omitempty"`

	// Commitments are the memory's attached action items.
	Commitments []Commitment `json:"commitments,omitempty"`
}
