package automata

import (
	"encoding/binary"

	"github.com/sanonone/kektorpath/pkg/query"
)

// Config is an NFA state together with the values of all repetition
// counters, packed little-endian into a string so that configurations are
// comparable and usable as map keys.
type Config struct {
	State    StateID
	Counters string
}

// Counter returns the value of counter i.
func (c Config) Counter(i int) uint32 {
	return binary.LittleEndian.Uint32([]byte(c.Counters[i*4 : i*4+4]))
}

func zeroCounters(n int) string {
	if n == 0 {
		return ""
	}
	return string(make([]byte, n*4))
}

func withCounter(counters string, i int, v uint32) string {
	buf := []byte(counters)
	binary.LittleEndian.PutUint32(buf[i*4:], v)
	return string(buf)
}

// follow applies the counter operation of an epsilon edge. It reports false
// when the edge's guard blocks the transition.
func (a *Automaton) follow(c Config, e epsEdge) (Config, bool) {
	next := Config{State: e.to, Counters: c.Counters}
	if e.op == opNone {
		return next, true
	}
	cs := a.counters[e.counter]
	k := int(c.Counter(e.counter))
	switch e.op {
	case opReset:
		if k != 0 {
			next.Counters = withCounter(c.Counters, e.counter, 0)
		}
	case opLoop:
		if cs.max != query.Unbounded && k+1 >= cs.max {
			return Config{}, false
		}
		k++
		// unbounded repetitions only need to count up to min
		if cs.max == query.Unbounded && k > cs.min-1 {
			k = cs.min - 1
		}
		next.Counters = withCounter(c.Counters, e.counter, uint32(k))
	case opExit:
		if k+1 < cs.min {
			return Config{}, false
		}
		if k != 0 {
			next.Counters = withCounter(c.Counters, e.counter, 0)
		}
	}
	return next, true
}

// important reports whether configurations of state s need to be stored:
// only states with predicate transitions and the accepting state matter.
func (a *Automaton) important(s StateID) bool {
	return s == a.final || len(a.states[s].sym) > 0
}

// closure returns the important configurations reachable from c through
// epsilon edges, in breadth-first order.
func (a *Automaton) closure(c Config) []Config {
	visited := map[Config]struct{}{c: {}}
	queue := []Config{c}
	var out []Config
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if a.important(cur.State) {
			out = append(out, cur)
		}
		for _, e := range a.states[cur.State].eps {
			next, ok := a.follow(cur, e)
			if !ok {
				continue
			}
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return out
}

func (a *Automaton) computeMoves(c Config) []Move {
	edges := a.states[c.State].sym
	if len(edges) == 0 {
		return nil
	}
	moves := make([]Move, 0, len(edges))
	for _, e := range edges {
		moves = append(moves, Move{
			Pred:    e.pred,
			Targets: a.closure(Config{State: e.to, Counters: c.Counters}),
		})
	}
	return moves
}

// explore precomputes the moves of every configuration reachable from the
// start. It returns nil if more than limit configurations are reachable.
func (a *Automaton) explore(limit int) map[Config][]Move {
	table := make(map[Config][]Move)
	queue := append([]Config(nil), a.startConfigs...)
	queued := make(map[Config]struct{}, len(queue))
	for _, c := range queue {
		queued[c] = struct{}{}
	}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		moves := a.computeMoves(c)
		table[c] = moves
		if len(queued) > limit {
			return nil
		}
		for _, m := range moves {
			for _, t := range m.Targets {
				if _, ok := queued[t]; ok {
					continue
				}
				queued[t] = struct{}{}
				queue = append(queue, t)
			}
		}
	}
	return table
}
