package types

// InterestProfile is the user's long-lived interest model consumed by the
// salience scorer: topic and people affinities plus context-type frequency
// statistics used for novelty detection. Built and refreshed externally;
// the engine only reads it.
type InterestProfile struct {
	// UserID is the owning user.
	UserID string `json:"user_id"`

	// Topics maps topic name to affinity (0.0 to 1.0).
	Topics map[string]float64 `json:"topics,omitempty"`

	// People maps person name to affinity (0.0 to 1.0).
	People map[string]float64 `json:"people,omitempty"`

	// ContextTypeCounts maps context type to observation count.
	ContextTypeCounts map[string]int `json:"context_type_counts,omitempty"`

	// TotalContexts is the total number of captures observed.
	TotalContexts int `json:"total_contexts"`
}

// ContextTypeFrequency returns how often the given context type has been
// seen as a fraction of all captures, or 0 when no statistics exist.
func (p *InterestProfile) ContextTypeFrequency(contextType string) float64 {
	if p == nil || p.TotalContexts <= 0 {
		return 0
	}
	return float64(p.ContextTypeCounts[contextType]) / float64(p.TotalContexts)
}
