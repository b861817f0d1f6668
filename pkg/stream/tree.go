package stream

import (
	"math"

	"github.com/sanonone/kektorpath/pkg/automata"
)

// rootTs is the bottleneck timestamp of root entries, which never expire on
// their own.
const rootTs = math.MaxUint64

// node is a frontier entry: vertex reached in configuration cfg by a path
// from the tree's root. ts is the oldest edge timestamp on the best known
// path, so the entry stays valid while ts >= lo.
type node struct {
	tree   *tree
	vertex uint64
	cfg    automata.Config
	parent *node
	hop    Hop
	ts     uint64
	seq    uint64

	counted bool // contributes to tree.accepts
	queued  bool
	removed bool
}

// tree is the spanning tree of all paths starting at root. Root entries are
// kept apart from at, so a non-empty path that returns to the root in a start
// configuration gets an entry of its own that expires like any other.
type tree struct {
	root    uint64
	at      map[uint64]map[automata.Config]*node // non-root entries
	accepts map[uint64]int
	roots   []*node
	size    int // non-root entries
}

func newTree(root uint64) *tree {
	return &tree{
		root:    root,
		at:      make(map[uint64]map[automata.Config]*node),
		accepts: make(map[uint64]int),
	}
}

func (t *tree) get(v uint64, c automata.Config) *node {
	return t.at[v][c]
}

// entries returns every entry at v, root entries included.
func (t *tree) entries(v uint64) []*node {
	m := t.at[v]
	out := make([]*node, 0, len(m)+len(t.roots))
	if v == t.root {
		out = append(out, t.roots...)
	}
	for _, n := range m {
		out = append(out, n)
	}
	return out
}

// put stores n and reports whether the tree had no entries at n.vertex before.
func (t *tree) put(n *node) bool {
	m, ok := t.at[n.vertex]
	if !ok {
		m = make(map[automata.Config]*node)
		t.at[n.vertex] = m
	}
	m[n.cfg] = n
	return !ok
}

// drop removes a non-root entry and reports whether the tree has no entries
// left at n.vertex. The root vertex keeps its root entries.
func (t *tree) drop(n *node) bool {
	m := t.at[n.vertex]
	delete(m, n.cfg)
	if len(m) > 0 {
		return false
	}
	delete(t.at, n.vertex)
	return n.vertex != t.root
}

// witness returns the hops from the root to n.
func (n *node) witness() []Hop {
	depth := 0
	for cur := n; cur.parent != nil; cur = cur.parent {
		depth++
	}
	if depth == 0 {
		return nil
	}
	path := make([]Hop, depth)
	for cur := n; cur.parent != nil; cur = cur.parent {
		depth--
		path[depth] = cur.hop
	}
	return path
}

func nodeLess(a, b *node) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	return a.seq < b.seq
}
