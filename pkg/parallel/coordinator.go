// Package parallel runs several stream engines over one edge stream. Every
// worker sees every edge and the same window, but maintains only the trees
// whose root it owns, so the union of the workers' matches equals the
// matches of a single engine.
package parallel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sanonone/kektorpath/pkg/automata"
	"github.com/sanonone/kektorpath/pkg/metrics"
	"github.com/sanonone/kektorpath/pkg/stream"
	"github.com/sanonone/kektorpath/pkg/window"
)

// ErrClosed is returned by Ingest after Close.
var ErrClosed = errors.New("coordinator closed")

// Options configures a Coordinator.
type Options struct {
	Stream  stream.Options
	Workers int
	// Buffer is the per-worker channel capacity.
	Buffer int
	// Query labels the per-worker gauges.
	Query string

	// OnMatches receives every worker's matches. It is called concurrently
	// from worker goroutines.
	OnMatches func(worker int, ms []stream.Match) error
	// OnAdvance is called once per window advance, after every worker has
	// applied all edges that preceded it. Calls are ordered.
	OnAdvance func(window.Boundary) error
}

type message struct {
	edge    stream.Edge
	advance *advance
}

type advance struct {
	b       window.Boundary
	pending atomic.Int32
}

type worker struct {
	id  int
	eng *stream.Engine
	in  chan message
}

// Coordinator owns the window clock and broadcasts watermarks and edges to
// its workers.
type Coordinator struct {
	opts    Options
	win     *window.Manager
	workers []*worker

	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	late   uint64
}

// Owner returns the index of the worker that owns root.
func Owner(root uint64, workers int) int {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], root)
	return int(xxhash.Sum64(b[:]) % uint64(workers))
}

// New creates the workers and starts them. The coordinator stops when ctx is
// cancelled or a worker fails.
func New(ctx context.Context, aut *automata.Automaton, opts Options) (*Coordinator, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("invalid worker count %d", opts.Workers)
	}
	win, err := window.NewManager(opts.Stream.WindowSize, opts.Stream.SlideSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	c := &Coordinator{
		opts:   opts,
		win:    win,
		g:      g,
		ctx:    gctx,
		cancel: cancel,
	}

	for i := 0; i < opts.Workers; i++ {
		so := opts.Stream
		so.ExternalClock = true
		so.OnAdvance = nil
		id := i
		n := opts.Workers
		so.Owns = func(root uint64) bool { return Owner(root, n) == id }

		eng, err := stream.New(aut, so)
		if err != nil {
			cancel()
			return nil, err
		}
		c.workers = append(c.workers, &worker{id: i, eng: eng, in: make(chan message, opts.Buffer)})
	}
	for _, w := range c.workers {
		w := w
		g.Go(func() error { return c.loop(gctx, w) })
	}
	slog.Debug("[PARALLEL] workers started", "workers", opts.Workers)
	return c, nil
}

func (c *Coordinator) loop(ctx context.Context, w *worker) error {
	label := strconv.Itoa(w.id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-w.in:
			if !ok {
				return nil
			}
			if msg.advance != nil {
				w.eng.AdvanceTo(msg.advance.b.Lo)
				st := w.eng.Stats()
				metrics.FrontierEntries.WithLabelValues(c.opts.Query, label).Set(float64(st.LiveNodes))
				metrics.WindowEdges.WithLabelValues(c.opts.Query, label).Set(float64(st.LiveEdges))
				if msg.advance.pending.Add(-1) == 0 && c.opts.OnAdvance != nil {
					if err := c.opts.OnAdvance(msg.advance.b); err != nil {
						return err
					}
				}
				continue
			}
			ms, err := w.eng.Ingest(msg.edge)
			if err != nil {
				return fmt.Errorf("worker %d: %w", w.id, err)
			}
			if len(ms) > 0 && c.opts.OnMatches != nil {
				if err := c.opts.OnMatches(w.id, ms); err != nil {
					return err
				}
			}
		}
	}
}

// Window returns the coordinator's window bounds and identifier.
func (c *Coordinator) Window() (lo, hi, id uint64) {
	return c.win.Lo(), c.win.Hi(), c.win.ID()
}

// Ingest broadcasts ed to every worker, preceded by a watermark when it
// advances the window. Late edges are dropped here and reported with a
// *stream.LateArrivalWarning.
func (c *Coordinator) Ingest(ed stream.Edge) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	d, b, advanced := c.win.Admit(ed.Ts)
	if advanced {
		adv := &advance{b: b}
		adv.pending.Store(int32(len(c.workers)))
		if err := c.broadcast(message{advance: adv}); err != nil {
			return err
		}
	}
	if d == window.Late {
		c.late++
		return &stream.LateArrivalWarning{Edge: ed, Lo: c.win.Lo()}
	}
	return c.broadcast(message{edge: ed})
}

func (c *Coordinator) broadcast(msg message) error {
	for _, w := range c.workers {
		select {
		case w.in <- msg:
		case <-c.ctx.Done():
			return c.failure()
		}
	}
	return nil
}

// failure reports why the workers stopped.
func (c *Coordinator) failure() error {
	if err := c.g.Wait(); err != nil {
		return err
	}
	return c.ctx.Err()
}

// Close stops accepting edges, waits for the workers to drain their queues
// and returns the first worker error.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, w := range c.workers {
		close(w.in)
	}
	c.mu.Unlock()

	err := c.g.Wait()
	c.cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stats sums the worker counters. Edge counters are per worker, since every
// worker sees every edge, so they are taken from worker 0. Call it after
// Close.
func (c *Coordinator) Stats() stream.Stats {
	var out stream.Stats
	for i, w := range c.workers {
		s := w.eng.Stats()
		if i == 0 {
			out = s
			out.Matches = 0
			out.LiveNodes = 0
			out.LiveTrees = 0
			out.Retired = 0
		}
		out.Matches += s.Matches
		out.LiveNodes += s.LiveNodes
		out.LiveTrees += s.LiveTrees
		out.Retired += s.Retired
	}
	out.Late += c.late
	return out
}
