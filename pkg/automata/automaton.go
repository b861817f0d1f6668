// Package automata compiles parsed regular path queries into Thompson NFAs.
//
// Bounded repetitions are not unrolled. Each one gets a counter and the
// automaton is simulated over configurations (state plus counter values).
// The configurations reachable from the start, and the epsilon-closures
// between them, are computed once by Compile and shared read-only.
package automata

import (
	"fmt"
	"strings"

	"github.com/sanonone/kektorpath/pkg/query"
)

// StateID identifies an NFA state.
type StateID int32

// MaxCachedConfigs bounds the precomputed configuration table. Automata whose
// reachable configuration space is larger compute closures on demand.
const MaxCachedConfigs = 1 << 16

type opKind uint8

const (
	opNone opKind = iota
	opReset
	opLoop
	opExit
)

type epsEdge struct {
	to      StateID
	op      opKind
	counter int
}

type symEdge struct {
	pred query.Predicate
	to   StateID
}

type state struct {
	eps []epsEdge
	sym []symEdge
}

type counterSpec struct {
	min, max int
}

// Move is an outgoing predicate transition of a configuration together with
// the epsilon-closed configurations it leads to.
type Move struct {
	Pred    query.Predicate
	Targets []Config
}

// Automaton is an immutable NFA with counters. It is safe for concurrent use.
type Automaton struct {
	states   []state
	counters []counterSpec
	start    StateID
	final    StateID

	labels   map[string]struct{}
	wildcard bool

	startConfigs []Config
	// moves is nil when the configuration space exceeded MaxCachedConfigs.
	moves map[Config][]Move
}

// Compile builds the automaton for p. It is total: every parsed path compiles.
func Compile(p query.Path) *Automaton {
	b := &builder{}
	f := b.build(p)
	a := &Automaton{
		states:   b.states,
		counters: b.counters,
		start:    f.in,
		final:    f.out,
		labels:   make(map[string]struct{}),
	}
	for _, s := range a.states {
		for _, e := range s.sym {
			if e.pred.Wildcard() {
				a.wildcard = true
				continue
			}
			a.labels[e.pred.Label] = struct{}{}
		}
	}
	a.startConfigs = a.closure(Config{State: a.start, Counters: zeroCounters(len(a.counters))})
	a.moves = a.explore(MaxCachedConfigs)
	return a
}

// NumStates returns the number of NFA states.
func (a *Automaton) NumStates() int { return len(a.states) }

// NumCounters returns the number of repetition counters.
func (a *Automaton) NumCounters() int { return len(a.counters) }

// NumConfigs returns the size of the precomputed configuration table, or 0
// if closures are computed on demand.
func (a *Automaton) NumConfigs() int { return len(a.moves) }

// Relevant reports whether an edge with label can take part in any match.
func (a *Automaton) Relevant(label string) bool {
	if a.wildcard {
		return true
	}
	_, ok := a.labels[label]
	return ok
}

// Start returns the epsilon-closure of the start state.
func (a *Automaton) Start() []Config { return a.startConfigs }

// Accepting reports whether c is in the accepting state.
func (a *Automaton) Accepting(c Config) bool { return c.State == a.final }

// AcceptsEmpty reports whether the automaton matches the empty path.
func (a *Automaton) AcceptsEmpty() bool {
	for _, c := range a.startConfigs {
		if a.Accepting(c) {
			return true
		}
	}
	return false
}

// Moves returns the predicate transitions leaving c.
func (a *Automaton) Moves(c Config) []Move {
	if a.moves != nil {
		if m, ok := a.moves[c]; ok {
			return m
		}
	}
	return a.computeMoves(c)
}

// Step returns the configurations reached from c by reading one edge with the
// given label in the given direction. The returned slice is shared and must
// not be modified.
func (a *Automaton) Step(c Config, label string, inverse bool) []Config {
	var out []Config
	var seen map[Config]struct{}
	for _, m := range a.Moves(c) {
		if !Matches(m.Pred, label, inverse) {
			continue
		}
		if out == nil {
			out = m.Targets
			continue
		}
		if seen == nil {
			seen = make(map[Config]struct{}, len(out)+len(m.Targets))
			merged := make([]Config, 0, len(out)+len(m.Targets))
			for _, t := range out {
				seen[t] = struct{}{}
				merged = append(merged, t)
			}
			out = merged
		}
		for _, t := range m.Targets {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}

// Matches reports whether predicate p accepts an edge with label traversed in
// the given direction.
func Matches(p query.Predicate, label string, inverse bool) bool {
	return p.Inverse == inverse && (p.Wildcard() || p.Label == label)
}

// Symbol is one traversed edge of a label word.
type Symbol struct {
	Label   string
	Inverse bool
}

// Accepts simulates the automaton over a word of traversed edges.
func (a *Automaton) Accepts(word []Symbol) bool {
	current := a.startConfigs
	for _, sym := range word {
		seen := make(map[Config]struct{})
		var next []Config
		for _, c := range current {
			for _, t := range a.Step(c, sym.Label, sym.Inverse) {
				if _, ok := seen[t]; ok {
					continue
				}
				seen[t] = struct{}{}
				next = append(next, t)
			}
		}
		if len(next) == 0 {
			return false
		}
		current = next
	}
	for _, c := range current {
		if a.Accepting(c) {
			return true
		}
	}
	return false
}

// String renders the transition structure, one state per line.
func (a *Automaton) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "states=%d counters=%d start=%d final=%d\n", len(a.states), len(a.counters), a.start, a.final)
	for i, s := range a.states {
		for _, e := range s.sym {
			fmt.Fprintf(&sb, "  %d -%s-> %d\n", i, e.pred, e.to)
		}
		for _, e := range s.eps {
			switch e.op {
			case opNone:
				fmt.Fprintf(&sb, "  %d -eps-> %d\n", i, e.to)
			case opReset:
				fmt.Fprintf(&sb, "  %d -eps[c%d:=0]-> %d\n", i, e.counter, e.to)
			case opLoop:
				fmt.Fprintf(&sb, "  %d -eps[c%d++]-> %d\n", i, e.counter, e.to)
			case opExit:
				fmt.Fprintf(&sb, "  %d -eps[c%d>=min]-> %d\n", i, e.counter, e.to)
			}
		}
	}
	return sb.String()
}

type fragment struct {
	in, out StateID
}

type builder struct {
	states   []state
	counters []counterSpec
}

func (b *builder) newState() StateID {
	b.states = append(b.states, state{})
	return StateID(len(b.states) - 1)
}

func (b *builder) eps(from, to StateID, op opKind, counter int) {
	b.states[from].eps = append(b.states[from].eps, epsEdge{to: to, op: op, counter: counter})
}

func (b *builder) build(p query.Path) fragment {
	switch n := p.(type) {
	case query.Predicate:
		in, out := b.newState(), b.newState()
		b.states[in].sym = append(b.states[in].sym, symEdge{pred: n, to: out})
		return fragment{in, out}

	case query.Sequence:
		if len(n.Children) == 0 {
			s := b.newState()
			return fragment{s, s}
		}
		f := b.build(n.Children[0])
		for _, c := range n.Children[1:] {
			g := b.build(c)
			b.eps(f.out, g.in, opNone, 0)
			f.out = g.out
		}
		return f

	case query.Alternation:
		in, out := b.newState(), b.newState()
		for _, c := range n.Children {
			g := b.build(c)
			b.eps(in, g.in, opNone, 0)
			b.eps(g.out, out, opNone, 0)
		}
		return fragment{in, out}

	case query.Repeat:
		return b.buildRepeat(n)
	}
	panic(fmt.Sprintf("automata: unknown path node %T", p))
}

func (b *builder) buildRepeat(r query.Repeat) fragment {
	if r.Max == 0 {
		s := b.newState()
		return fragment{s, s}
	}
	if r.Min == 1 && r.Max == 1 {
		return b.build(r.Child)
	}

	in, out := b.newState(), b.newState()
	body := b.build(r.Child)

	switch {
	case r.Max == query.Unbounded && r.Min <= 1:
		b.eps(in, body.in, opNone, 0)
		b.eps(body.out, body.in, opNone, 0)
		b.eps(body.out, out, opNone, 0)
		if r.Min == 0 {
			b.eps(in, out, opNone, 0)
		}

	case r.Min == 0 && r.Max == 1:
		b.eps(in, body.in, opNone, 0)
		b.eps(body.out, out, opNone, 0)
		b.eps(in, out, opNone, 0)

	default:
		c := len(b.counters)
		b.counters = append(b.counters, counterSpec{min: r.Min, max: r.Max})
		b.eps(in, body.in, opReset, c)
		b.eps(body.out, body.in, opLoop, c)
		b.eps(body.out, out, opExit, c)
		if r.Min == 0 {
			b.eps(in, out, opNone, 0)
		}
	}
	return fragment{in, out}
}
