// Package stream evaluates a compiled regular path query over a windowed
// stream of labeled edges.
package stream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Edge is one stream event. Vertex identifiers are opaque integers; string
// identifiers are interned by the input layer.
type Edge struct {
	Src   uint64
	Label string
	Dst   uint64
	Ts    uint64
}

func (e Edge) String() string {
	return fmt.Sprintf("(%d,%s,%d,t=%d)", e.Src, e.Label, e.Dst, e.Ts)
}

// Hop is one traversed edge of a witness path. For inverse hops From is the
// edge's target and To its source.
type Hop struct {
	From    uint64 `json:"from"`
	To      uint64 `json:"to"`
	Label   string `json:"label"`
	Inverse bool   `json:"inverse,omitempty"`
	Ts      uint64 `json:"ts"`
}

// Match is a path from Source to Target whose label sequence is accepted by
// the query. Path is empty for empty-path matches.
type Match struct {
	Source uint64 `json:"source"`
	Target uint64 `json:"target"`
	Path   []Hop  `json:"path,omitempty"`
	Window uint64 `json:"window"`
}

// Vertices returns the vertex sequence of the witness path.
func (m Match) Vertices() []uint64 {
	out := make([]uint64, 0, len(m.Path)+1)
	out = append(out, m.Source)
	for _, h := range m.Path {
		out = append(out, h.To)
	}
	return out
}

// PathString renders the witness as "1 -a-> 2 -^b-> 3".
func (m Match) PathString() string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(m.Source, 10))
	for _, h := range m.Path {
		sb.WriteString(" -")
		if h.Inverse {
			sb.WriteByte('^')
		}
		sb.WriteString(h.Label)
		sb.WriteString("-> ")
		sb.WriteString(strconv.FormatUint(h.To, 10))
	}
	return sb.String()
}

// Semantics selects what happens to a path once it is accepted.
type Semantics uint8

const (
	// Retain keeps extending accepted paths when the query allows it.
	Retain Semantics = iota
	// Consume stops a path at its first accepting configuration.
	Consume
)

// ParseSemantics maps "retain" and "consume" to their constants.
func ParseSemantics(s string) (Semantics, error) {
	switch strings.ToLower(s) {
	case "", "retain":
		return Retain, nil
	case "consume":
		return Consume, nil
	}
	return Retain, fmt.Errorf("unknown accepting semantics %q", s)
}

func (s Semantics) String() string {
	if s == Consume {
		return "consume"
	}
	return "retain"
}

var (
	// ErrLateArrival is matched by LateArrivalWarning.
	ErrLateArrival = errors.New("late arrival")
	// ErrOutOfWindow is returned when an externally clocked engine receives an
	// edge beyond the current window.
	ErrOutOfWindow = errors.New("edge beyond current window")
)

// LateArrivalWarning reports an edge older than the window's lower bound.
// The edge is dropped; the warning is not fatal.
type LateArrivalWarning struct {
	Edge Edge
	Lo   uint64
}

func (w *LateArrivalWarning) Error() string {
	return fmt.Sprintf("late arrival: edge %s before window start %d", w.Edge, w.Lo)
}

func (w *LateArrivalWarning) Is(target error) bool { return target == ErrLateArrival }

// Stats are cumulative counters plus the live size of the engine state.
type Stats struct {
	Edges       uint64 // edges applied to the window graph
	Late        uint64
	OutOfWindow uint64
	Duplicates  uint64 // dropped by the duplicate filter
	Ignored     uint64 // labels the query never reads
	Unchanged   uint64 // re-deliveries that did not extend an edge's validity
	Matches     uint64
	Advances    uint64
	Retired     uint64 // frontier entries removed by window advances

	LiveEdges int
	LiveNodes int
	LiveTrees int
}
