package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sanonone/kektorpath/pkg/metrics"
	"github.com/sanonone/kektorpath/pkg/stream"
	"github.com/sanonone/kektorpath/pkg/window"
)

// Source yields edges until io.EOF. *input.Reader implements it.
type Source interface {
	Next() (stream.Edge, error)
}

// skipCounter is implemented by sources that drop malformed records.
type skipCounter interface {
	Skipped() int
}

// Ingest evaluates one edge and emits the matches it completes. Late edges
// are dropped and counted; a *stream.LateArrivalWarning is not returned to
// the caller.
func (e *Engine) Ingest(ed stream.Edge) error {
	if e.filter != nil {
		if _, ok := e.filter[ed.Label]; !ok {
			e.filtered++
			metrics.EdgesTotal.WithLabelValues(e.opts.Name, "filtered").Inc()
			return nil
		}
	}

	_, _, before := e.Window()
	start := time.Now()
	outcome, err := e.apply(ed)
	elapsed := time.Since(start)
	if err != nil {
		return err
	}
	if e.sinkErr != nil {
		return e.sinkErr
	}

	if _, _, after := e.Window(); after != before {
		e.closeBatch(start)
	}
	e.batchSize++
	e.batchBusy += elapsed

	metrics.EdgesTotal.WithLabelValues(e.opts.Name, outcome).Inc()
	metrics.IngestDuration.WithLabelValues(e.opts.Name).Observe(elapsed.Seconds())
	e.rec.Observe(metrics.TotalLatency, float64(elapsed.Microseconds()))
	e.rec.Add(metrics.TotalSize, 1)
	return nil
}

func (e *Engine) apply(ed stream.Edge) (string, error) {
	if e.coord != nil {
		err := e.coord.Ingest(ed)
		if errors.Is(err, stream.ErrLateArrival) {
			slog.Debug("[ENGINE] late edge dropped", "edge", ed.String(), "error", err)
			return "late", nil
		}
		return "applied", err
	}

	prev := e.single.Stats()
	ms, err := e.single.Ingest(ed)
	if errors.Is(err, stream.ErrLateArrival) {
		slog.Debug("[ENGINE] late edge dropped", "edge", ed.String(), "error", err)
		return "late", nil
	}
	if err != nil {
		return "", err
	}
	if err := e.emit.Emit(ms); err != nil {
		return "", err
	}
	return outcomeOf(prev, e.single.Stats()), nil
}

func outcomeOf(prev, cur stream.Stats) string {
	switch {
	case cur.Edges > prev.Edges:
		return "applied"
	case cur.Unchanged > prev.Unchanged:
		return "unchanged"
	case cur.Duplicates > prev.Duplicates:
		return "duplicate"
	case cur.Ignored > prev.Ignored:
		return "ignored"
	case cur.OutOfWindow > prev.OutOfWindow:
		return "out_of_window"
	}
	return "applied"
}

// advanced forwards a window boundary to the sinks. In parallel mode it runs
// on a worker goroutine.
func (e *Engine) advanced(b window.Boundary) error {
	slog.Debug("[ENGINE] window final", "run_id", e.opts.RunID, "window", b.PrevID, "next", b.ID)
	return e.emit.Boundary(b)
}

// closeBatch records the edges processed since the previous window advance.
func (e *Engine) closeBatch(now time.Time) {
	if e.batchSize > 0 {
		e.rec.Observe(metrics.BatchLatency, float64(e.batchBusy.Microseconds()))
		e.rec.Observe(metrics.BatchSize, float64(e.batchSize))
	}
	e.batchSize = 0
	e.batchBusy = 0
	e.rec.Set(metrics.TotalTime, now.Sub(e.started).Milliseconds())

	if e.single != nil {
		st := e.single.Stats()
		metrics.FrontierEntries.WithLabelValues(e.opts.Name, "0").Set(float64(st.LiveNodes))
		metrics.WindowEdges.WithLabelValues(e.opts.Name, "0").Set(float64(st.LiveEdges))
	}
}

// Run ingests every edge of src until io.EOF or ctx is done. Malformed
// records skipped by src are counted once Run returns.
func (e *Engine) Run(ctx context.Context, src Source) error {
	skippedBefore := 0
	if sc, ok := src.(skipCounter); ok {
		skippedBefore = sc.Skipped()
	}
	defer func() {
		if sc, ok := src.(skipCounter); ok {
			if n := sc.Skipped() - skippedBefore; n > 0 {
				metrics.EdgesTotal.WithLabelValues(e.opts.Name, "malformed").Add(float64(n))
			}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ed, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := e.Ingest(ed); err != nil {
			return fmt.Errorf("edge %s: %w", ed, err)
		}
	}
}

// Window returns the current window bounds and identifier.
func (e *Engine) Window() (lo, hi, id uint64) {
	if e.coord != nil {
		return e.coord.Window()
	}
	return e.single.Window()
}

// Stats returns the evaluator counters. With more than one worker it must only
// be called after Close.
func (e *Engine) Stats() stream.Stats {
	if e.coord != nil {
		return e.coord.Stats()
	}
	return e.single.Stats()
}

// Filtered returns how many edges the predicate filter dropped.
func (e *Engine) Filtered() uint64 { return e.filtered }

// Recorder returns the run metrics.
func (e *Engine) Recorder() *metrics.Recorder { return e.rec }

// RunID returns the run identifier.
func (e *Engine) RunID() string { return e.opts.RunID }
