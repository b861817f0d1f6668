package stream

import (
	"github.com/tidwall/btree"

	"github.com/sanonone/kektorpath/pkg/query"
)

// adjacency maps vertex -> label -> neighbor -> latest timestamp.
type adjacency map[uint64]map[string]map[uint64]uint64

func (a adjacency) set(v uint64, label string, n, ts uint64) {
	byLabel, ok := a[v]
	if !ok {
		byLabel = make(map[string]map[uint64]uint64)
		a[v] = byLabel
	}
	nbrs, ok := byLabel[label]
	if !ok {
		nbrs = make(map[uint64]uint64)
		byLabel[label] = nbrs
	}
	nbrs[n] = ts
}

func (a adjacency) remove(v uint64, label string, n uint64) {
	byLabel := a[v]
	nbrs := byLabel[label]
	delete(nbrs, n)
	if len(nbrs) == 0 {
		delete(byLabel, label)
		if len(byLabel) == 0 {
			delete(a, v)
		}
	}
}

type edgeItem struct {
	ts    uint64
	src   uint64
	dst   uint64
	label string
}

func edgeItemLess(a, b edgeItem) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	if a.src != b.src {
		return a.src < b.src
	}
	if a.dst != b.dst {
		return a.dst < b.dst
	}
	return a.label < b.label
}

// graph holds the edges of the current window. Only the latest timestamp of
// each (src, label, dst) triple is kept.
type graph struct {
	out, in adjacency
	byTs    *btree.BTreeG[edgeItem]
}

func newGraph() *graph {
	return &graph{
		out:  make(adjacency),
		in:   make(adjacency),
		byTs: btree.NewBTreeG[edgeItem](edgeItemLess),
	}
}

// insert adds e or refreshes its timestamp. It reports false if an identical
// edge with an equal or later timestamp is already present.
func (g *graph) insert(e Edge) bool {
	if prev, ok := g.out[e.Src][e.Label][e.Dst]; ok {
		if prev >= e.Ts {
			return false
		}
		g.byTs.Delete(edgeItem{ts: prev, src: e.Src, dst: e.Dst, label: e.Label})
	}
	g.out.set(e.Src, e.Label, e.Dst, e.Ts)
	g.in.set(e.Dst, e.Label, e.Src, e.Ts)
	g.byTs.Set(edgeItem{ts: e.Ts, src: e.Src, dst: e.Dst, label: e.Label})
	return true
}

// expire removes every edge with a timestamp before lo and returns how many
// were removed.
func (g *graph) expire(lo uint64) int {
	var stale []edgeItem
	g.byTs.Scan(func(it edgeItem) bool {
		if it.ts >= lo {
			return false
		}
		stale = append(stale, it)
		return true
	})
	for _, it := range stale {
		g.byTs.Delete(it)
		g.out.remove(it.src, it.label, it.dst)
		g.in.remove(it.dst, it.label, it.src)
	}
	return len(stale)
}

func (g *graph) len() int { return g.byTs.Len() }

// each calls fn for every edge at v that p can traverse: outgoing edges for
// forward predicates, incoming edges for inverse ones.
func (g *graph) each(v uint64, p query.Predicate, fn func(label string, n, ts uint64)) {
	adj := g.out
	if p.Inverse {
		adj = g.in
	}
	byLabel, ok := adj[v]
	if !ok {
		return
	}
	if !p.Wildcard() {
		for n, ts := range byLabel[p.Label] {
			fn(p.Label, n, ts)
		}
		return
	}
	for label, nbrs := range byLabel {
		for n, ts := range nbrs {
			fn(label, n, ts)
		}
	}
}
