package stream

import (
	"fmt"
	"log/slog"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/btree"

	"github.com/sanonone/kektorpath/pkg/automata"
	"github.com/sanonone/kektorpath/pkg/query"
	"github.com/sanonone/kektorpath/pkg/window"
)

// Options configures an Engine.
type Options struct {
	// WindowSize and SlideSize define the sliding window, in timestamp units.
	WindowSize uint64
	SlideSize  uint64

	// EmitEmptyPaths emits (v, v) when a tree is rooted at v and the query
	// accepts the empty path.
	EmitEmptyPaths bool

	// Semantics controls whether accepted paths keep being extended.
	Semantics Semantics

	// DedupCapacity enables a filter that drops exact duplicate edges
	// (same endpoints, label and timestamp). Zero disables it.
	DedupCapacity int

	// ExternalClock disables automatic window advances. The owner advances
	// the window with AdvanceTo and edges beyond it are rejected with
	// ErrOutOfWindow.
	ExternalClock bool

	// Owns restricts the trees this engine maintains to roots it returns true
	// for. Nil means every root.
	Owns func(root uint64) bool

	// OnAdvance is called synchronously after every window advance, once
	// expired state is retired.
	OnAdvance func(window.Boundary)
}

// DefaultOptions returns options for a window of the given size and slide
// with empty-path matches enabled and retain semantics.
func DefaultOptions(windowSize, slideSize uint64) Options {
	return Options{
		WindowSize:     windowSize,
		SlideSize:      slideSize,
		EmitEmptyPaths: true,
		Semantics:      Retain,
	}
}

// Engine evaluates one automaton over an edge stream. It is owned by a single
// goroutine: Ingest and AdvanceTo must not be called concurrently.
type Engine struct {
	opts Options
	aut  *automata.Automaton
	win  *window.Manager

	g      *graph
	trees  map[uint64]*tree
	index  map[uint64]map[uint64]struct{} // vertex -> roots of trees with entries there
	expiry *btree.BTreeG[*node]
	dedup  *lru.Cache[Edge, struct{}]

	startPreds []query.Predicate

	seq     uint64
	nodes   int
	work    []*node
	matches []Match
	stats   Stats
}

// New creates an engine for aut.
func New(aut *automata.Automaton, opts Options) (*Engine, error) {
	win, err := window.NewManager(opts.WindowSize, opts.SlideSize)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		opts:   opts,
		aut:    aut,
		win:    win,
		g:      newGraph(),
		trees:  make(map[uint64]*tree),
		index:  make(map[uint64]map[uint64]struct{}),
		expiry: btree.NewBTreeG[*node](nodeLess),
	}
	if opts.DedupCapacity > 0 {
		e.dedup, err = lru.New[Edge, struct{}](opts.DedupCapacity)
		if err != nil {
			return nil, fmt.Errorf("failed to create duplicate filter: %w", err)
		}
	}
	for _, c := range aut.Start() {
		for _, m := range aut.Moves(c) {
			e.startPreds = append(e.startPreds, m.Pred)
		}
	}
	return e, nil
}

// Window returns the current window bounds and identifier.
func (e *Engine) Window() (lo, hi, id uint64) {
	return e.win.Lo(), e.win.Hi(), e.win.ID()
}

// Ingest applies one edge and returns the matches it completes. Late edges
// return a *LateArrivalWarning and leave the state untouched; an edge ahead
// of the window advances it first unless the engine is externally clocked.
func (e *Engine) Ingest(ed Edge) ([]Match, error) {
	if e.opts.ExternalClock {
		switch e.win.Classify(ed.Ts) {
		case window.Late:
			e.stats.Late++
			return nil, &LateArrivalWarning{Edge: ed, Lo: e.win.Lo()}
		case window.Ahead:
			e.stats.OutOfWindow++
			return nil, fmt.Errorf("%w: edge %s, window [%d, %d)", ErrOutOfWindow, ed, e.win.Lo(), e.win.Hi())
		}
	} else {
		d, b, advanced := e.win.Admit(ed.Ts)
		if advanced {
			e.retire(b)
		}
		if d == window.Late {
			e.stats.Late++
			return nil, &LateArrivalWarning{Edge: ed, Lo: e.win.Lo()}
		}
	}

	if !e.aut.Relevant(ed.Label) {
		e.stats.Ignored++
		return nil, nil
	}
	if e.dedup != nil {
		if seen, _ := e.dedup.ContainsOrAdd(ed, struct{}{}); seen {
			e.stats.Duplicates++
			return nil, nil
		}
	}
	if !e.g.insert(ed) {
		e.stats.Unchanged++
		return nil, nil
	}
	e.stats.Edges++

	// Frontier entries are read before the edge updates anything, so the
	// edge-local step never consumes its own output. Longer walks that reuse
	// the edge are found by the expansion below, which reads the window graph.
	type relaxation struct {
		from    *node
		hop     Hop
		to      uint64
		ts      uint64
		targets []automata.Config
	}
	var pending []relaxation
	collect := func(at, to uint64, inverse bool) {
		for _, root := range e.rootsAt(at) {
			for _, n := range e.trees[root].entries(at) {
				for _, m := range e.aut.Moves(n.cfg) {
					if !automata.Matches(m.Pred, ed.Label, inverse) {
						continue
					}
					hop := Hop{From: at, To: to, Label: ed.Label, Inverse: inverse, Ts: ed.Ts}
					pending = append(pending, relaxation{
						from:    n,
						hop:     hop,
						to:      to,
						ts:      min(n.ts, ed.Ts),
						targets: e.targets(m.Targets),
					})
				}
			}
		}
	}
	collect(ed.Src, ed.Dst, false)
	collect(ed.Dst, ed.Src, true)

	for _, p := range e.startPreds {
		if automata.Matches(p, ed.Label, false) {
			e.ensureTree(ed.Src)
		}
		if automata.Matches(p, ed.Label, true) {
			e.ensureTree(ed.Dst)
		}
	}
	for _, r := range pending {
		for _, c := range r.targets {
			e.relax(r.from, r.hop, r.to, c, r.ts)
		}
	}
	e.drain()

	out := e.matches
	e.matches = nil
	return out, nil
}

// Advance moves the window forward until ts falls inside it and retires the
// state that left the window.
func (e *Engine) Advance(ts uint64) (window.Boundary, bool) {
	return e.AdvanceTo(e.win.Target(ts))
}

// AdvanceTo moves the window's lower bound to lo (rounded up to a slide
// boundary). It is idempotent: bounds at or below the current one are ignored.
func (e *Engine) AdvanceTo(lo uint64) (window.Boundary, bool) {
	b, ok := e.win.AdvanceTo(lo)
	if ok {
		e.retire(b)
	}
	return b, ok
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.LiveEdges = e.g.len()
	s.LiveNodes = e.nodes
	s.LiveTrees = len(e.trees)
	return s
}

// OldestEntry returns the smallest bottleneck timestamp among non-root
// frontier entries.
func (e *Engine) OldestEntry() (uint64, bool) {
	n, ok := e.expiry.Min()
	if !ok {
		return 0, false
	}
	return n.ts, true
}

// Accepting returns the targets currently reachable from root by an accepted
// path, in ascending order.
func (e *Engine) Accepting(root uint64) []uint64 {
	t, ok := e.trees[root]
	if !ok {
		return nil
	}
	out := make([]uint64, 0, len(t.accepts))
	for v := range t.accepts {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) owns(root uint64) bool {
	return e.opts.Owns == nil || e.opts.Owns(root)
}

// rootsAt returns the roots of trees with entries at v, sorted so that
// evaluation order does not depend on map iteration.
func (e *Engine) rootsAt(v uint64) []uint64 {
	set := e.index[v]
	if len(set) == 0 {
		return nil
	}
	roots := make([]uint64, 0, len(set))
	for r := range set {
		roots = append(roots, r)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots
}

// targets applies the accepting semantics to the configurations of a move.
func (e *Engine) targets(cfgs []automata.Config) []automata.Config {
	if e.opts.Semantics != Consume {
		return cfgs
	}
	var accepting []automata.Config
	for _, c := range cfgs {
		if e.aut.Accepting(c) {
			accepting = append(accepting, c)
		}
	}
	if accepting == nil {
		return cfgs
	}
	return accepting
}

func (e *Engine) ensureTree(root uint64) {
	if _, ok := e.trees[root]; ok || !e.owns(root) {
		return
	}
	t := newTree(root)
	e.trees[root] = t
	for _, c := range e.aut.Start() {
		e.add(&node{tree: t, vertex: root, cfg: c, ts: rootTs})
	}
}

// relax offers a path to (v, c) through parent with bottleneck ts. The entry
// is created, or re-parented if the new path stays valid longer.
func (e *Engine) relax(parent *node, hop Hop, v uint64, c automata.Config, ts uint64) {
	t := parent.tree
	n := t.get(v, c)
	if n != nil {
		if n.ts >= ts {
			return
		}
		e.expiry.Delete(n)
		n.parent, n.hop, n.ts = parent, hop, ts
		e.expiry.Set(n)
		e.enqueue(n)
		return
	}
	n = &node{tree: t, vertex: v, cfg: c, parent: parent, hop: hop, ts: ts}
	t.size++
	e.add(n)
	e.expiry.Set(n)
}

// add registers a new entry, emits a match if it makes v accepting, and
// queues it for expansion.
func (e *Engine) add(n *node) {
	e.seq++
	n.seq = e.seq
	e.nodes++
	t := n.tree
	if n.parent == nil {
		t.roots = append(t.roots, n)
		e.indexAdd(n.vertex, t.root)
	} else if t.put(n) {
		e.indexAdd(n.vertex, t.root)
	}
	if e.aut.Accepting(n.cfg) && (n.parent != nil || e.opts.EmitEmptyPaths) {
		n.counted = true
		t.accepts[n.vertex]++
		if t.accepts[n.vertex] == 1 {
			e.stats.Matches++
			e.matches = append(e.matches, Match{
				Source: t.root,
				Target: n.vertex,
				Path:   n.witness(),
				Window: e.win.ID(),
			})
		}
	}
	e.enqueue(n)
}

func (e *Engine) enqueue(n *node) {
	if n.queued {
		return
	}
	n.queued = true
	e.work = append(e.work, n)
}

// drain extends queued entries over the window graph until no entry improves.
func (e *Engine) drain() {
	for len(e.work) > 0 {
		n := e.work[len(e.work)-1]
		e.work = e.work[:len(e.work)-1]
		n.queued = false
		if n.removed {
			continue
		}
		for _, m := range e.aut.Moves(n.cfg) {
			targets := e.targets(m.Targets)
			e.g.each(n.vertex, m.Pred, func(label string, nb, ts uint64) {
				hop := Hop{From: n.vertex, To: nb, Label: label, Inverse: m.Pred.Inverse, Ts: ts}
				cand := min(n.ts, ts)
				for _, c := range targets {
					e.relax(n, hop, nb, c, cand)
				}
			})
		}
	}
}

// retire drops edges and frontier entries that left the window. Entries hold
// their best bottleneck timestamp, so an entry below lo has no derivation
// inside the window and neither has any entry below it in the tree.
func (e *Engine) retire(b window.Boundary) {
	e.stats.Advances++
	edges := e.g.expire(b.Lo)

	var stale []*node
	e.expiry.Scan(func(n *node) bool {
		if n.ts >= b.Lo {
			return false
		}
		stale = append(stale, n)
		return true
	})
	touched := make(map[*tree]struct{})
	for _, n := range stale {
		e.expiry.Delete(n)
		e.remove(n)
		n.tree.size--
		touched[n.tree] = struct{}{}
	}
	e.stats.Retired += uint64(len(stale))

	for t := range touched {
		if t.size > 0 {
			continue
		}
		for _, n := range t.roots {
			e.remove(n)
		}
		e.indexDrop(t.root, t.root)
		delete(e.trees, t.root)
	}

	slog.Debug("[STREAM] window advanced",
		"window", b.ID, "lo", b.Lo, "hi", b.Hi,
		"edges_expired", edges, "entries_retired", len(stale), "trees", len(e.trees))

	if e.opts.OnAdvance != nil {
		e.opts.OnAdvance(b)
	}
}

func (e *Engine) remove(n *node) {
	n.removed = true
	e.nodes--
	t := n.tree
	if n.parent != nil && t.drop(n) {
		e.indexDrop(n.vertex, t.root)
	}
	if n.counted {
		t.accepts[n.vertex]--
		if t.accepts[n.vertex] == 0 {
			delete(t.accepts, n.vertex)
		}
	}
}

func (e *Engine) indexAdd(v, root uint64) {
	roots, ok := e.index[v]
	if !ok {
		roots = make(map[uint64]struct{})
		e.index[v] = roots
	}
	roots[root] = struct{}{}
}

func (e *Engine) indexDrop(v, root uint64) {
	roots := e.index[v]
	delete(roots, root)
	if len(roots) == 0 {
		delete(e.index, v)
	}
}
