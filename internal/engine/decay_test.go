package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecayModifier(t *testing.T) {
	t.Run("fresh memory has no decay", func(t *testing.T) {
		assert.InDelta(t, 1.0, DecayModifier(0, DefaultDecayRatePerDay, DefaultDecayFloor), 1e-9)
	})

	t.Run("decreases monotonically with age", func(t *testing.T) {
		prev := 1.1
		for days := 0.0; days <= 365; days += 7 {
			m := DecayModifier(days, DefaultDecayRatePerDay, DefaultDecayFloor)
			assert.Less(t, m, prev, "modifier should decrease at day %f", days)
			prev = m
		}
	})

	t.Run("never drops below the floor", func(t *testing.T) {
		assert.Equal(t, DefaultDecayFloor, DecayModifier(10000, DefaultDecayRatePerDay, DefaultDecayFloor))
	})

	t.Run("matches the exponential curve before the floor", func(t *testing.T) {
		assert.InDelta(t, math.Exp(-0.01*30), DecayModifier(30, 0.01, 0.3), 1e-9)
	})

	t.Run("negative age clamps to zero", func(t *testing.T) {
		assert.InDelta(t, 1.0, DecayModifier(-5, DefaultDecayRatePerDay, DefaultDecayFloor), 1e-9)
	})

	t.Run("invalid parameters fall back to defaults", func(t *testing.T) {
		assert.Equal(t,
			DecayModifier(50, DefaultDecayRatePerDay, DefaultDecayFloor),
			DecayModifier(50, -1, 0))
	})
}

func TestRetrievalBoost(t *testing.T) {
	t.Run("boost shrinks as retrieval count grows", func(t *testing.T) {
		first := RetrievalBoost(50, 0) - 50
		tenth := RetrievalBoost(50, 10) - 50
		assert.Greater(t, first, tenth)
		assert.Greater(t, tenth, 0.0)
	})

	t.Run("never exceeds the scale", func(t *testing.T) {
		assert.LessOrEqual(t, RetrievalBoost(99.9, 0), 100.0)
		assert.Equal(t, 100.0, RetrievalBoost(150, 0))
	})

	t.Run("never decreases the score", func(t *testing.T) {
		for count := 0; count < 50; count += 5 {
			assert.GreaterOrEqual(t, RetrievalBoost(42, count), 42.0)
		}
	})

	t.Run("monotone in current score", func(t *testing.T) {
		assert.Greater(t, RetrievalBoost(80, 3), RetrievalBoost(60, 3))
	})

	t.Run("negative inputs are clamped", func(t *testing.T) {
		assert.GreaterOrEqual(t, RetrievalBoost(-10, -2), 0.0)
	})
}
