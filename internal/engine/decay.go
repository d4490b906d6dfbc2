// Package engine implements the Focal salience core: decay math, salience
// scoring, the per-user attention window, multi-device context fusion,
// retrieval ranking, and pattern learning.
package engine

import "math"

const (
	// DefaultDecayRatePerDay is the exponential decay rate applied to
	// salience as a memory ages.
	DefaultDecayRatePerDay = 0.01

	// DefaultDecayFloor is the minimum decay modifier. Decay never reaches
	// zero: old, once-high-salience memories stay discoverable. Salience is
	// permanent but fading, not forgotten.
	DefaultDecayFloor = 0.3

	// maxSalience is the upper bound of every salience scale.
	maxSalience = 100.0
)

// DecayModifier returns the multiplicative decay factor for a memory that is
// daysSinceCapture days old. The modifier is 1.0 at day zero, decreases
// monotonically with age, and never drops below floor.
//
// Negative ages are clamped to zero; non-positive rate or floor fall back to
// the defaults. The function cannot fail.
func DecayModifier(daysSinceCapture, ratePerDay, floor float64) float64 {
	if daysSinceCapture < 0 {
		daysSinceCapture = 0
	}
	if ratePerDay <= 0 {
		ratePerDay = DefaultDecayRatePerDay
	}
	if floor <= 0 || floor > 1 {
		floor = DefaultDecayFloor
	}

	modifier := math.Exp(-ratePerDay * daysSinceCapture)
	if modifier < floor {
		return floor
	}
	return modifier
}

// RetrievalBoost returns the new stored salience after a retrieval event.
// Each retrieval nudges the score toward 100 by an amount that shrinks as
// retrievalCount grows, modeling retrieval-practice reinforcement with
// diminishing returns. The result is clamped to [currentScore, 100] and is
// monotonically non-decreasing in currentScore for a fixed count.
func RetrievalBoost(currentScore float64, retrievalCount int) float64 {
	if currentScore < 0 {
		currentScore = 0
	}
	if currentScore > maxSalience {
		return maxSalience
	}
	if retrievalCount < 0 {
		retrievalCount = 0
	}

	headroom := maxSalience - currentScore
	boost := headroom * 0.05 / (1.0 + 0.3*float64(retrievalCount))

	boosted := currentScore + boost
	if boosted > maxSalience {
		return maxSalience
	}
	return boosted
}
