// Package window tracks the sliding time window of a stream.
package window

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSize is returned for non-positive sizes or a slide larger than the window.
	ErrInvalidSize = errors.New("invalid window size")
)

// Disposition classifies a timestamp against the current window.
type Disposition uint8

const (
	// Inside means lo <= t < hi.
	Inside Disposition = iota
	// Late means t < lo; the event arrived after its window was retired.
	Late
	// Ahead means t >= hi; the window must advance before the event is admitted.
	Ahead
)

func (d Disposition) String() string {
	switch d {
	case Inside:
		return "inside"
	case Late:
		return "late"
	case Ahead:
		return "ahead"
	}
	return "unknown"
}

// Boundary describes one window advance. Windows with ID below ID are final.
type Boundary struct {
	// ID of the window that became active.
	ID uint64
	// PrevID is the window that was active before the advance.
	PrevID uint64
	// Lo and Hi are the bounds of the new window.
	Lo, Hi uint64
	// PrevLo is the lower bound before the advance.
	PrevLo uint64
}

// Manager holds the active range [lo, hi) of width Size advanced by multiples
// of Slide. It is not safe for concurrent use; a single owner drives it.
type Manager struct {
	size  uint64
	slide uint64
	lo    uint64
}

// NewManager returns a manager whose first window is [0, size).
func NewManager(size, slide uint64) (*Manager, error) {
	if size == 0 || slide == 0 {
		return nil, fmt.Errorf("%w: window=%d slide=%d must be positive", ErrInvalidSize, size, slide)
	}
	if slide > size {
		return nil, fmt.Errorf("%w: slide %d exceeds window %d", ErrInvalidSize, slide, size)
	}
	return &Manager{size: size, slide: slide}, nil
}

// Size returns the window width.
func (m *Manager) Size() uint64 { return m.size }

// Slide returns the slide width.
func (m *Manager) Slide() uint64 { return m.slide }

// Lo returns the inclusive lower bound.
func (m *Manager) Lo() uint64 { return m.lo }

// Hi returns the exclusive upper bound.
func (m *Manager) Hi() uint64 { return m.lo + m.size }

// ID returns the number of slides performed so far.
func (m *Manager) ID() uint64 { return m.lo / m.slide }

// Classify reports where t falls relative to the current window.
func (m *Manager) Classify(t uint64) Disposition {
	switch {
	case t < m.lo:
		return Late
	case t >= m.Hi():
		return Ahead
	}
	return Inside
}

// Target returns the lower bound the window must reach so that t is inside
// it. It returns the current bound if t is not ahead.
func (m *Manager) Target(t uint64) uint64 {
	if t < m.Hi() {
		return m.lo
	}
	// smallest lo' = lo + k*slide with t < lo' + size
	k := (t-m.Hi())/m.slide + 1
	return m.lo + k*m.slide
}

// AdvanceTo moves the lower bound to lo, which must be a multiple of the
// slide. Moving to a bound at or below the current one is a no-op and
// returns false.
func (m *Manager) AdvanceTo(lo uint64) (Boundary, bool) {
	if lo <= m.lo {
		return Boundary{}, false
	}
	if rem := lo % m.slide; rem != 0 {
		lo += m.slide - rem
	}
	b := Boundary{PrevLo: m.lo, PrevID: m.ID()}
	m.lo = lo
	b.ID, b.Lo, b.Hi = m.ID(), m.lo, m.Hi()
	return b, true
}

// Admit advances the window if t is ahead of it and reports the timestamp's
// disposition before any advance. Late timestamps leave the window unchanged.
func (m *Manager) Admit(t uint64) (Disposition, Boundary, bool) {
	d := m.Classify(t)
	if d != Ahead {
		return d, Boundary{}, false
	}
	b, ok := m.AdvanceTo(m.Target(t))
	return d, b, ok
}

// Expired reports whether state derived from an edge with timestamp ts has
// left the window.
func (m *Manager) Expired(ts uint64) bool { return ts < m.lo }
