package emitter

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorpath/pkg/input"
	"github.com/sanonone/kektorpath/pkg/metrics"
	"github.com/sanonone/kektorpath/pkg/persistence"
	"github.com/sanonone/kektorpath/pkg/stream"
	"github.com/sanonone/kektorpath/pkg/window"
)

func sampleMatch() stream.Match {
	return stream.Match{
		Source: 1,
		Target: 3,
		Window: 0,
		Path: []stream.Hop{
			{From: 1, To: 2, Label: "a", Ts: 1},
			{From: 2, To: 3, Label: "b", Inverse: true, Ts: 2},
		},
	}
}

func TestTextSink(t *testing.T) {
	dict := input.NewDictionary()
	dict.Intern("alice")
	dict.Intern("bob")
	dict.Intern("carol")

	var buf bytes.Buffer
	s := NewTextSink(&buf, dict.Namer())
	require.NoError(t, s.Match(sampleMatch()))
	require.NoError(t, s.Boundary(window.Boundary{ID: 2, PrevID: 0, Lo: 20, Hi: 30}))
	require.NoError(t, s.Close())

	assert.Equal(t,
		"0\talice\tcarol\talice -a-> bob -^b-> carol\n"+
			"# window 0 final\n"+
			"# window 1 final\n",
		buf.String())
}

func TestChannelSink(t *testing.T) {
	s := NewChannelSink(context.Background(), 4)
	e := New(s)
	require.NoError(t, e.Emit([]stream.Match{sampleMatch()}))
	require.NoError(t, e.Boundary(window.Boundary{ID: 1, Lo: 10, Hi: 20}))
	require.NoError(t, e.Close())

	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	require.NotNil(t, events[0].Match)
	assert.Equal(t, uint64(3), events[0].Match.Target)
	require.NotNil(t, events[1].Boundary)
	assert.Equal(t, uint64(1), events[1].Boundary.ID)
}

func TestChannelSinkCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewChannelSink(ctx, 0)
	cancel()
	err := s.Match(sampleMatch())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matches.log")
	lw, err := persistence.NewLogWriter(path)
	require.NoError(t, err)
	lazy := persistence.NewLazyWriterWithConfig(lw, time.Hour, time.Hour, 1024)

	header := RunHeader{RunID: "r1", Query: "a/^b", WindowSize: 10, SlideSize: 5}
	s, err := NewLogSink(lazy, header)
	require.NoError(t, err)
	require.NoError(t, s.Match(sampleMatch()))
	require.NoError(t, s.Boundary(window.Boundary{ID: 1, PrevID: 0, Lo: 5, Hi: 15}))
	require.NoError(t, s.Close())

	got, err := ReadLog(path)
	require.NoError(t, err)
	assert.Equal(t, "r1", got.Header.RunID)
	assert.Equal(t, "a/^b", got.Header.Query)
	require.Len(t, got.Matches, 1)
	assert.Equal(t, sampleMatch(), got.Matches[0])
	require.Len(t, got.Boundaries, 1)
	assert.Equal(t, window.Boundary{ID: 1, PrevID: 0, Lo: 5, Hi: 15}, got.Boundaries[0])
}

func TestMetricsSink(t *testing.T) {
	rec := metrics.NewRecorder()
	s := NewMetricsSink("emitter-test", rec)
	before := testutil.ToFloat64(metrics.MatchesTotal.WithLabelValues("emitter-test"))

	e := New(s)
	require.NoError(t, e.Emit([]stream.Match{sampleMatch(), sampleMatch()}))
	require.NoError(t, e.Boundary(window.Boundary{ID: 1}))

	assert.Equal(t, before+2, testutil.ToFloat64(metrics.MatchesTotal.WithLabelValues("emitter-test")))
	assert.Equal(t, uint64(2), rec.Counter(metrics.TotalMatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WindowAdvancesTotal.WithLabelValues("emitter-test")))
}

type failingSink struct{ closed bool }

func (f *failingSink) Match(stream.Match) error       { return errors.New("disk full") }
func (f *failingSink) Boundary(window.Boundary) error { return nil }
func (f *failingSink) Close() error                   { f.closed = true; return nil }

func TestEmitterErrors(t *testing.T) {
	f := &failingSink{}
	e := New(f)
	err := e.Emit([]stream.Match{sampleMatch()})
	assert.ErrorContains(t, err, "disk full")

	require.NoError(t, e.Close())
	assert.True(t, f.closed)
	require.NoError(t, e.Close())
	assert.Error(t, e.Emit([]stream.Match{sampleMatch()}))
}
