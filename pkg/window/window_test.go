package window

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerValidation(t *testing.T) {
	testCases := []struct {
		name        string
		size, slide uint64
		ok          bool
	}{
		{name: "tumbling", size: 10, slide: 10, ok: true},
		{name: "sliding", size: 10, slide: 2, ok: true},
		{name: "zero window", size: 0, slide: 1},
		{name: "zero slide", size: 10, slide: 0},
		{name: "slide exceeds window", size: 5, slide: 10},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewManager(tc.size, tc.slide)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidSize))
		})
	}
}

func TestAdmit(t *testing.T) {
	m, err := NewManager(10, 5)
	require.NoError(t, err)

	d, _, advanced := m.Admit(5)
	assert.Equal(t, Inside, d)
	assert.False(t, advanced)

	d, b, advanced := m.Admit(15)
	assert.Equal(t, Ahead, d)
	require.True(t, advanced)
	assert.Equal(t, Boundary{ID: 2, Lo: 10, Hi: 20, PrevLo: 0}, b)
	assert.Equal(t, Inside, m.Classify(15))

	d, _, advanced = m.Admit(9)
	assert.Equal(t, Late, d)
	assert.False(t, advanced)
	assert.Equal(t, uint64(10), m.Lo())
}

func TestTargetIsSmallestCoveringWindow(t *testing.T) {
	m, err := NewManager(10, 3)
	require.NoError(t, err)
	for ts := uint64(0); ts < 100; ts++ {
		lo := m.Target(ts)
		assert.Zero(t, lo%3)
		assert.True(t, ts >= lo && ts < lo+10, "ts=%d lo=%d", ts, lo)
		if lo >= 3 {
			assert.False(t, ts < lo-3+10, "window at %d already covers %d", lo-3, ts)
		}
	}
}

func TestAdvanceToIsIdempotent(t *testing.T) {
	m, err := NewManager(10, 5)
	require.NoError(t, err)

	b, ok := m.AdvanceTo(10)
	require.True(t, ok)
	assert.Equal(t, uint64(2), b.ID)

	_, ok = m.AdvanceTo(10)
	assert.False(t, ok)
	_, ok = m.AdvanceTo(5)
	assert.False(t, ok)
	assert.Equal(t, uint64(10), m.Lo())

	// unaligned bounds round up to the next slide
	b, ok = m.AdvanceTo(12)
	require.True(t, ok)
	assert.Equal(t, uint64(15), b.Lo)
}

func TestExpired(t *testing.T) {
	m, err := NewManager(10, 5)
	require.NoError(t, err)
	m.AdvanceTo(5)
	assert.True(t, m.Expired(4))
	assert.False(t, m.Expired(5))
}
