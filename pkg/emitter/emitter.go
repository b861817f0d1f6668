// Package emitter forwards matches and window boundary markers to sinks.
package emitter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sanonone/kektorpath/pkg/stream"
	"github.com/sanonone/kektorpath/pkg/window"
)

// Sink receives results in engine order. A Boundary call means every window
// with an ID below b.ID has its final result set.
type Sink interface {
	Match(m stream.Match) error
	Boundary(b window.Boundary) error
	Close() error
}

// Emitter fans results out to a fixed set of sinks. It is safe for
// concurrent use; calls are serialized so every sink sees the same order.
type Emitter struct {
	mu     sync.Mutex
	sinks  []Sink
	closed bool
}

// New returns an emitter writing to sinks.
func New(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks}
}

// Emit forwards matches to every sink.
func (e *Emitter) Emit(ms []stream.Match) error {
	if len(ms) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed
	}
	for _, m := range ms {
		for _, s := range e.sinks {
			if err := s.Match(m); err != nil {
				return fmt.Errorf("sink %T: %w", s, err)
			}
		}
	}
	return nil
}

// Boundary forwards a window boundary marker to every sink.
func (e *Emitter) Boundary(b window.Boundary) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed
	}
	for _, s := range e.sinks {
		if err := s.Boundary(b); err != nil {
			return fmt.Errorf("sink %T: %w", s, err)
		}
	}
	return nil
}

// Close closes every sink and returns their errors joined.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var errs []error
	for _, s := range e.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %T: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

var errClosed = errors.New("emitter closed")
