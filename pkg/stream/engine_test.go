package stream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorpath/pkg/automata"
	"github.com/sanonone/kektorpath/pkg/query"
	"github.com/sanonone/kektorpath/pkg/window"
)

type pair struct{ src, dst uint64 }

func newEngine(t *testing.T, rpq string, opts Options) *Engine {
	t.Helper()
	e, err := New(automata.Compile(query.MustParse(rpq)), opts)
	require.NoError(t, err)
	return e
}

func ingestAll(t *testing.T, e *Engine, edges ...Edge) []Match {
	t.Helper()
	var out []Match
	for _, ed := range edges {
		ms, err := e.Ingest(ed)
		require.NoError(t, err, "edge %s", ed)
		out = append(out, ms...)
	}
	return out
}

func pairsOf(ms []Match) []pair {
	out := make([]pair, 0, len(ms))
	for _, m := range ms {
		out = append(out, pair{m.Source, m.Target})
	}
	return out
}

func TestSequenceWitness(t *testing.T) {
	e := newEngine(t, "a/b", DefaultOptions(100, 10))
	ms := ingestAll(t, e,
		Edge{Src: 1, Label: "a", Dst: 2, Ts: 1},
		Edge{Src: 2, Label: "b", Dst: 3, Ts: 2},
	)
	require.Len(t, ms, 1)
	assert.Equal(t, pair{1, 3}, pair{ms[0].Source, ms[0].Target})
	assert.Equal(t, []uint64{1, 2, 3}, ms[0].Vertices())
	assert.Equal(t, "1 -a-> 2 -b-> 3", ms[0].PathString())
	assert.Equal(t, uint64(0), ms[0].Window)
}

func TestKleeneStarWithEmptyPaths(t *testing.T) {
	edges := []Edge{
		{Src: 1, Label: "a", Dst: 2, Ts: 1},
		{Src: 2, Label: "a", Dst: 3, Ts: 2},
	}

	e := newEngine(t, "a*", DefaultOptions(100, 10))
	ms := ingestAll(t, e, edges...)
	assert.ElementsMatch(t, []pair{{1, 1}, {1, 2}, {1, 3}, {2, 2}, {2, 3}}, pairsOf(ms))

	opts := DefaultOptions(100, 10)
	opts.EmitEmptyPaths = false
	e = newEngine(t, "a*", opts)
	ms = ingestAll(t, e, edges...)
	assert.ElementsMatch(t, []pair{{1, 2}, {1, 3}, {2, 3}}, pairsOf(ms))

	// a non-empty walk back to the source is reported even without empty paths
	e = newEngine(t, "a*", opts)
	ms = ingestAll(t, e,
		Edge{Src: 1, Label: "a", Dst: 2, Ts: 1},
		Edge{Src: 2, Label: "a", Dst: 1, Ts: 2},
	)
	assert.ElementsMatch(t, []pair{{1, 2}, {1, 1}, {2, 1}, {2, 2}}, pairsOf(ms))
	for _, m := range ms {
		if m.Source == 1 && m.Target == 1 {
			assert.Equal(t, []uint64{1, 2, 1}, m.Vertices())
		}
	}

	e = newEngine(t, "a*", opts)
	ms = ingestAll(t, e, Edge{Src: 1, Label: "a", Dst: 1, Ts: 1})
	require.Len(t, ms, 1)
	assert.Equal(t, pair{1, 1}, pair{ms[0].Source, ms[0].Target})
	assert.Len(t, ms[0].Path, 1)

	// with empty paths the loop does not report (1, 1) a second time
	e = newEngine(t, "a*", DefaultOptions(100, 10))
	ms = ingestAll(t, e, Edge{Src: 1, Label: "a", Dst: 1, Ts: 1})
	assert.Equal(t, []pair{{1, 1}}, pairsOf(ms))
}

func TestInverse(t *testing.T) {
	e := newEngine(t, "^a", DefaultOptions(100, 10))
	ms := ingestAll(t, e, Edge{Src: 1, Label: "a", Dst: 2, Ts: 1})
	require.Len(t, ms, 1)
	assert.Equal(t, pair{2, 1}, pair{ms[0].Source, ms[0].Target})
	assert.Equal(t, []Hop{{From: 2, To: 1, Label: "a", Inverse: true, Ts: 1}}, ms[0].Path)
}

func TestMixedDirections(t *testing.T) {
	// co-authors: two people linked by an inverse hop through a shared paper
	e := newEngine(t, "wrote/^wrote", DefaultOptions(100, 10))
	ms := ingestAll(t, e,
		Edge{Src: 1, Label: "wrote", Dst: 10, Ts: 1},
		Edge{Src: 2, Label: "wrote", Dst: 10, Ts: 2},
	)
	assert.ElementsMatch(t, []pair{{1, 1}, {1, 2}, {2, 1}, {2, 2}}, pairsOf(ms))
}

func TestWindowBoundary(t *testing.T) {
	opts := DefaultOptions(10, 10)
	opts.ExternalClock = true
	e := newEngine(t, "a", opts)

	ms := ingestAll(t, e, Edge{Src: 1, Label: "a", Dst: 2, Ts: 5})
	assert.Equal(t, []pair{{1, 2}}, pairsOf(ms))

	ms, err := e.Ingest(Edge{Src: 1, Label: "a", Dst: 2, Ts: 15})
	assert.True(t, errors.Is(err, ErrOutOfWindow))
	assert.Empty(t, ms)
	assert.Equal(t, uint64(1), e.Stats().OutOfWindow)
}

func TestAheadEdgeAdvancesWindow(t *testing.T) {
	var boundaries []window.Boundary
	opts := DefaultOptions(10, 10)
	opts.OnAdvance = func(b window.Boundary) { boundaries = append(boundaries, b) }
	e := newEngine(t, "a", opts)

	ingestAll(t, e, Edge{Src: 1, Label: "a", Dst: 2, Ts: 5})
	ms := ingestAll(t, e, Edge{Src: 1, Label: "a", Dst: 2, Ts: 15})

	require.Len(t, boundaries, 1)
	assert.Equal(t, window.Boundary{ID: 1, Lo: 10, Hi: 20, PrevLo: 0}, boundaries[0])
	require.Len(t, ms, 1)
	assert.Equal(t, uint64(1), ms[0].Window)
}

func TestLateArrival(t *testing.T) {
	e := newEngine(t, "a", DefaultOptions(10, 5))
	ingestAll(t, e, Edge{Src: 1, Label: "a", Dst: 2, Ts: 22})

	ms, err := e.Ingest(Edge{Src: 3, Label: "a", Dst: 4, Ts: 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLateArrival))
	var w *LateArrivalWarning
	require.ErrorAs(t, err, &w)
	assert.Equal(t, uint64(15), w.Lo)
	assert.Empty(t, ms)
	assert.Equal(t, uint64(1), e.Stats().Late)
	assert.Nil(t, e.Accepting(3))
}

func TestReplayIsIdempotent(t *testing.T) {
	e := newEngine(t, "a/b*", DefaultOptions(100, 10))
	first := ingestAll(t, e,
		Edge{Src: 1, Label: "a", Dst: 2, Ts: 1},
		Edge{Src: 2, Label: "b", Dst: 3, Ts: 2},
	)
	before := e.Stats()

	again := ingestAll(t, e,
		Edge{Src: 1, Label: "a", Dst: 2, Ts: 1},
		Edge{Src: 2, Label: "b", Dst: 3, Ts: 2},
	)
	after := e.Stats()

	assert.NotEmpty(t, first)
	assert.Empty(t, again)
	assert.Equal(t, before.LiveNodes, after.LiveNodes)
	assert.Equal(t, before.LiveEdges, after.LiveEdges)
	assert.Equal(t, uint64(2), after.Unchanged)
}

func TestDuplicateFilter(t *testing.T) {
	opts := DefaultOptions(100, 10)
	opts.DedupCapacity = 16
	e := newEngine(t, "a", opts)
	ingestAll(t, e,
		Edge{Src: 1, Label: "a", Dst: 2, Ts: 1},
		Edge{Src: 1, Label: "a", Dst: 2, Ts: 1},
	)
	assert.Equal(t, uint64(1), e.Stats().Duplicates)
	assert.Equal(t, uint64(1), e.Stats().Edges)
}

func TestOrderIndependence(t *testing.T) {
	edges := []Edge{
		{Src: 1, Label: "a", Dst: 2, Ts: 1},
		{Src: 2, Label: "b", Dst: 3, Ts: 2},
		{Src: 3, Label: "b", Dst: 4, Ts: 3},
		{Src: 4, Label: "c", Dst: 5, Ts: 4},
		{Src: 3, Label: "a", Dst: 1, Ts: 5},
		{Src: 5, Label: "c", Dst: 5, Ts: 6},
	}
	queries := []string{"a/b*/c*", "(a/b/b)+", "a/^a", "(a|b){2,3}/c?"}

	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			var reference []pair
			permute(edges, func(order []Edge) {
				e := newEngine(t, q, DefaultOptions(100, 10))
				got := pairsOf(ingestAll(t, e, order...))
				if reference == nil {
					reference = got
					return
				}
				require.ElementsMatch(t, reference, got, "order %v", order)
			})
			assert.NotEmpty(t, reference)
		})
	}
}

func permute(edges []Edge, fn func([]Edge)) {
	var rec func(int)
	perm := append([]Edge(nil), edges...)
	rec = func(k int) {
		if k == len(perm) {
			fn(perm)
			return
		}
		for i := k; i < len(perm); i++ {
			perm[k], perm[i] = perm[i], perm[k]
			rec(k + 1)
			perm[k], perm[i] = perm[i], perm[k]
		}
	}
	rec(0)
}

func TestExpiryRetiresState(t *testing.T) {
	var boundaries []window.Boundary
	opts := DefaultOptions(10, 5)
	opts.OnAdvance = func(b window.Boundary) { boundaries = append(boundaries, b) }
	e := newEngine(t, "a*", opts)

	ingestAll(t, e,
		Edge{Src: 1, Label: "a", Dst: 2, Ts: 1},
		Edge{Src: 2, Label: "a", Dst: 3, Ts: 7},
	)
	assert.Equal(t, []uint64{1, 2, 3}, e.Accepting(1))

	ingestAll(t, e, Edge{Src: 5, Label: "a", Dst: 6, Ts: 12})
	require.Len(t, boundaries, 1)
	assert.Equal(t, uint64(5), boundaries[0].Lo)

	oldest, ok := e.OldestEntry()
	require.True(t, ok)
	assert.GreaterOrEqual(t, oldest, uint64(5))

	assert.Nil(t, e.Accepting(1))
	assert.Equal(t, []uint64{2, 3}, e.Accepting(2))
	assert.Equal(t, []uint64{5, 6}, e.Accepting(5))

	s := e.Stats()
	assert.Equal(t, 2, s.LiveEdges)
	assert.Equal(t, 2, s.LiveTrees)
	// both configurations of vertices 2 and 3 in the tree rooted at 1
	assert.Equal(t, uint64(4), s.Retired)
}

func TestStateDependsOnlyOnWindow(t *testing.T) {
	e := newEngine(t, "a+", DefaultOptions(10, 10))
	for ts := uint64(0); ts < 1000; ts++ {
		_, err := e.Ingest(Edge{Src: ts, Label: "a", Dst: ts + 1, Ts: ts})
		require.NoError(t, err)
	}
	s := e.Stats()
	assert.LessOrEqual(t, s.LiveEdges, 10)
	assert.LessOrEqual(t, s.LiveTrees, 10)
	lo, _, _ := e.Window()
	oldest, ok := e.OldestEntry()
	require.True(t, ok)
	assert.GreaterOrEqual(t, oldest, lo)
}

func TestSelfLoopStateDependsOnlyOnWindow(t *testing.T) {
	e := newEngine(t, "a*", DefaultOptions(10, 10))
	for ts := uint64(0); ts < 1000; ts++ {
		_, err := e.Ingest(Edge{Src: ts, Label: "a", Dst: ts, Ts: ts})
		require.NoError(t, err)
	}
	s := e.Stats()
	assert.LessOrEqual(t, s.LiveEdges, 10)
	assert.LessOrEqual(t, s.LiveTrees, 10)
	// root and loop entries for each start configuration of the live trees
	assert.LessOrEqual(t, s.LiveNodes, 40)
}

func TestNewerDerivationSurvivesExpiry(t *testing.T) {
	e := newEngine(t, "a/b", DefaultOptions(10, 5))
	ms := ingestAll(t, e,
		Edge{Src: 1, Label: "a", Dst: 2, Ts: 1},
		Edge{Src: 2, Label: "b", Dst: 3, Ts: 6},
	)
	assert.Equal(t, []pair{{1, 3}}, pairsOf(ms))

	// a fresher copy of the first edge keeps the path alive past t=5
	ms = ingestAll(t, e, Edge{Src: 1, Label: "a", Dst: 2, Ts: 8})
	assert.Empty(t, ms)

	ingestAll(t, e, Edge{Src: 7, Label: "z", Dst: 8, Ts: 12})
	lo, _, _ := e.Window()
	require.Equal(t, uint64(5), lo)
	assert.Equal(t, []uint64{3}, e.Accepting(1))
	assert.Equal(t, uint64(1), e.Stats().Ignored)
}

func TestSelfLoop(t *testing.T) {
	e := newEngine(t, "a", DefaultOptions(100, 10))
	ms := ingestAll(t, e, Edge{Src: 1, Label: "a", Dst: 1, Ts: 1})
	assert.Equal(t, []pair{{1, 1}}, pairsOf(ms))

	// walks may reuse the loop
	e = newEngine(t, "a/a", DefaultOptions(100, 10))
	ms = ingestAll(t, e, Edge{Src: 1, Label: "a", Dst: 1, Ts: 1})
	require.Len(t, ms, 1)
	assert.Len(t, ms[0].Path, 2)
}

func TestBoundedRepetition(t *testing.T) {
	e := newEngine(t, "a{2,3}", DefaultOptions(100, 10))
	ms := ingestAll(t, e,
		Edge{Src: 1, Label: "a", Dst: 2, Ts: 1},
		Edge{Src: 2, Label: "a", Dst: 3, Ts: 2},
		Edge{Src: 3, Label: "a", Dst: 4, Ts: 3},
		Edge{Src: 4, Label: "a", Dst: 5, Ts: 4},
	)
	assert.ElementsMatch(t, []pair{{1, 3}, {1, 4}, {2, 4}, {2, 5}, {3, 5}}, pairsOf(ms))
}

func TestConsumeSemantics(t *testing.T) {
	edges := []Edge{
		{Src: 1, Label: "a", Dst: 2, Ts: 1},
		{Src: 2, Label: "a", Dst: 3, Ts: 2},
	}
	e := newEngine(t, "a+", DefaultOptions(100, 10))
	assert.ElementsMatch(t, []pair{{1, 2}, {1, 3}, {2, 3}}, pairsOf(ingestAll(t, e, edges...)))

	opts := DefaultOptions(100, 10)
	opts.Semantics = Consume
	e = newEngine(t, "a+", opts)
	assert.ElementsMatch(t, []pair{{1, 2}, {2, 3}}, pairsOf(ingestAll(t, e, edges...)))
}

func TestWildcard(t *testing.T) {
	e := newEngine(t, "a/()", DefaultOptions(100, 10))
	ms := ingestAll(t, e,
		Edge{Src: 1, Label: "a", Dst: 2, Ts: 1},
		Edge{Src: 2, Label: "x", Dst: 3, Ts: 2},
	)
	assert.Equal(t, []pair{{1, 3}}, pairsOf(ms))
}

func TestOwnsRestrictsRoots(t *testing.T) {
	opts := DefaultOptions(100, 10)
	opts.Owns = func(root uint64) bool { return root%2 == 1 }
	e := newEngine(t, "a", opts)
	ms := ingestAll(t, e,
		Edge{Src: 1, Label: "a", Dst: 2, Ts: 1},
		Edge{Src: 2, Label: "a", Dst: 3, Ts: 2},
	)
	assert.Equal(t, []pair{{1, 2}}, pairsOf(ms))
}

func TestParseSemantics(t *testing.T) {
	s, err := ParseSemantics("consume")
	require.NoError(t, err)
	assert.Equal(t, Consume, s)
	s, err = ParseSemantics("")
	require.NoError(t, err)
	assert.Equal(t, Retain, s)
	_, err = ParseSemantics("greedy")
	assert.Error(t, err)
}
