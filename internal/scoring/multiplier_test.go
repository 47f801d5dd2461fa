package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTieredMultiplier(t *testing.T) {
	p, err := NewTiered(nil)
	require.NoError(t, err)

	cases := map[int64]float64{0: 5, 1: 5, 5: 5, 6: 3, 10: 3, 11: 2, 15: 2, 16: 1, 1000: 1}
	for length, want := range cases {
		assert.Equal(t, want, p.Multiplier(length, 10), "chain length %d", length)
	}
	assert.False(t, p.Global())
}

func TestTieredMonotonicNonIncreasing(t *testing.T) {
	p, err := NewTiered(nil)
	require.NoError(t, err)

	const maxLen = 60
	for c1 := int64(0); c1 < maxLen; c1++ {
		for c2 := c1 + 1; c2 <= maxLen; c2++ {
			assert.GreaterOrEqual(t, p.Multiplier(c1, maxLen), p.Multiplier(c2, maxLen))
		}
	}
}

func TestNewTieredRejectsIncreasingTiers(t *testing.T) {
	_, err := NewTiered([]Tier{{MaxLength: 5, Multiplier: 2}, {MaxLength: 10, Multiplier: 3}})
	require.Error(t, err)

	_, err = NewTiered([]Tier{{MaxLength: 5, Multiplier: 0.5}})
	require.Error(t, err)
}

func TestNewTieredSortsTiers(t *testing.T) {
	p, err := NewTiered([]Tier{{MaxLength: 10, Multiplier: 2}, {MaxLength: 3, Multiplier: 4}})
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.Multiplier(2, 0))
	assert.Equal(t, 2.0, p.Multiplier(7, 0))
	assert.Equal(t, 1.0, p.Multiplier(11, 0))
}

func TestRelativeMultiplier(t *testing.T) {
	p, err := NewRelative(5.0)
	require.NoError(t, err)

	assert.Equal(t, 1.0, p.Multiplier(5, 5))
	assert.Equal(t, 3.0, p.Multiplier(5, 10))
	assert.Equal(t, 5.0, p.Multiplier(0, 10))
	assert.InDelta(t, 4.6, p.Multiplier(1, 10), 1e-9)
	assert.True(t, p.Global())
}

func TestMultiplierWithZeroMaxIsOne(t *testing.T) {
	relative, err := NewPolicy(PolicyRelative, 3.5, nil)
	require.NoError(t, err)
	for c := int64(0); c < 20; c++ {
		assert.Equal(t, 1.0, relative.Multiplier(c, 0))
	}
}

func TestMultiplierNeverBelowOne(t *testing.T) {
	for _, name := range []string{PolicyRelative, PolicyTiered} {
		p, err := NewPolicy(name, 5.0, nil)
		require.NoError(t, err)
		for max := int64(0); max <= 30; max++ {
			for c := int64(0); c <= 40; c++ {
				assert.GreaterOrEqual(t, p.Multiplier(c, max), 1.0, "%s(%d,%d)", name, c, max)
			}
		}
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy("Tiered", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, PolicyTiered, p.Name())

	_, err = NewPolicy("linear", 5, nil)
	require.Error(t, err)

	_, err = NewPolicy(PolicyRelative, 0.5, nil)
	require.Error(t, err)
}
