// Package engine provides the high-level, embedded interface for kektorpath.
//
// It wires a compiled query to a stream engine (or a parallel coordinator),
// the result sinks and the run report, so a windowed RPQ can be evaluated
// from Go code without the CLI.
//
// Basic usage:
//
//	opts := engine.DefaultOptions(query.MustParse("knows/likes*"), 3600, 60)
//	opts.OutputDir = "./out"
//	e, err := engine.Open(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Close()
//	err = e.Run(ctx, input.NewReader(f, input.IntegerTimestamped, nil, false))
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sanonone/kektorpath/pkg/automata"
	"github.com/sanonone/kektorpath/pkg/config"
	"github.com/sanonone/kektorpath/pkg/emitter"
	"github.com/sanonone/kektorpath/pkg/input"
	"github.com/sanonone/kektorpath/pkg/metrics"
	"github.com/sanonone/kektorpath/pkg/parallel"
	"github.com/sanonone/kektorpath/pkg/persistence"
	"github.com/sanonone/kektorpath/pkg/query"
	"github.com/sanonone/kektorpath/pkg/stream"
	"github.com/sanonone/kektorpath/pkg/window"
)

// Output file names inside OutputDir.
const (
	MatchLogFile  = "matches.log"
	MatchTextFile = "matches.tsv"
)

// Options configures an Engine.
type Options struct {
	// RunID tags the result log and log lines. Generated when empty.
	RunID string
	// Name labels metrics and the result log. Defaults to the expression.
	Name string
	Path query.Path

	WindowSize uint64
	SlideSize  uint64

	// Workers above one evaluate with a parallel coordinator.
	Workers        int
	EmitEmptyPaths bool
	Semantics      stream.Semantics
	DedupCapacity  int

	// Filter drops edges whose label is not listed before they reach the
	// evaluator. Nil disables the filter.
	Filter []string

	// MaxRate throttles Run to this many edges per second. Zero disables it.
	MaxRate float64

	// OutputDir receives the result log, the text results and the report.
	// Empty disables every file output.
	OutputDir string
	// ReportInterval is how often the report is appended to. Zero writes it
	// only on Close.
	ReportInterval time.Duration

	// Namer renders vertices in the text results.
	Namer input.Namer
	// Sinks receive results in addition to the file sinks.
	Sinks []emitter.Sink
}

// DefaultOptions returns options for evaluating p over a window of the given
// size and slide.
//
// Defaults:
//   - one worker
//   - empty-path matches on, retain semantics
//   - no duplicate filter, no rate limit
//   - report every 5s when OutputDir is set
func DefaultOptions(p query.Path, windowSize, slideSize uint64) Options {
	return Options{
		Path:           p,
		WindowSize:     windowSize,
		SlideSize:      slideSize,
		Workers:        1,
		EmitEmptyPaths: true,
		Semantics:      stream.Retain,
		ReportInterval: 5 * time.Second,
	}
}

// OptionsFromConfig resolves the query of a validated run configuration.
// Template queries enable the predicate filter unless a predicate is the
// wildcard.
func OptionsFromConfig(cfg config.Run) (Options, error) {
	var (
		p    query.Path
		name string
		err  error
	)
	if cfg.RPQ != "" {
		p, err = query.Parse(cfg.RPQ)
		name = cfg.RPQ
	} else {
		p, err = query.Resolve(cfg.Query, cfg.Predicates)
		name = cfg.Query
	}
	if err != nil {
		return Options{}, err
	}
	sem := stream.Retain
	if cfg.Semantics != "" {
		if sem, err = stream.ParseSemantics(cfg.Semantics); err != nil {
			return Options{}, err
		}
	}

	opts := DefaultOptions(p, cfg.WindowSize, cfg.SlideSize)
	opts.RunID = cfg.RunID
	opts.Name = name
	opts.Workers = cfg.Workers
	opts.EmitEmptyPaths = cfg.EmitEmptyPaths
	opts.Semantics = sem
	opts.DedupCapacity = cfg.DedupCapacity
	opts.MaxRate = cfg.MaxRate
	opts.OutputDir = cfg.OutputDir
	opts.ReportInterval = cfg.ReportInterval
	if cfg.RPQ == "" && !query.HasWildcard(p) {
		opts.Filter = query.Labels(p)
	}
	return opts, nil
}

// Engine evaluates one query over one stream.
//
// Use Open() to initialize an Engine and Close() to flush and release its
// outputs. Ingest and Run must not be called concurrently.
type Engine struct {
	opts Options
	aut  *automata.Automaton

	single *stream.Engine
	coord  *parallel.Coordinator

	emit     *emitter.Emitter
	rec      *metrics.Recorder
	exporter *metrics.CSVExporter
	limiter  *rate.Limiter
	filter   map[string]struct{}

	started   time.Time
	batchSize uint64
	batchBusy time.Duration
	filtered  uint64
	sinkErr   error

	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open compiles the query, creates the output directory and sinks and starts
// the background reporter.
func Open(opts Options) (*Engine, error) {
	if opts.Path == nil {
		return nil, errors.New("no query")
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if opts.Name == "" {
		opts.Name = opts.Path.String()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	e := &Engine{
		opts:    opts,
		aut:     automata.Compile(opts.Path),
		rec:     metrics.NewRecorder(),
		started: time.Now(),
		closed:  make(chan struct{}),
	}
	if opts.Filter != nil {
		e.filter = make(map[string]struct{}, len(opts.Filter))
		for _, l := range opts.Filter {
			e.filter[l] = struct{}{}
		}
	}
	if opts.MaxRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.MaxRate), 1)
	}

	sinks, err := e.openSinks()
	if err != nil {
		return nil, err
	}
	e.emit = emitter.New(sinks...)

	if err := e.openEvaluator(); err != nil {
		e.emit.Close()
		return nil, err
	}

	if e.exporter != nil && opts.ReportInterval > 0 {
		e.wg.Add(1)
		go e.backgroundTasks()
	}
	slog.Info("[ENGINE] run started",
		"run_id", opts.RunID,
		"query", opts.Name,
		"states", e.aut.NumStates(),
		"counters", e.aut.NumCounters(),
		"window", opts.WindowSize,
		"slide", opts.SlideSize,
		"workers", opts.Workers)
	return e, nil
}

func (e *Engine) openSinks() ([]emitter.Sink, error) {
	sinks := []emitter.Sink{emitter.NewMetricsSink(e.opts.Name, e.rec)}
	if e.opts.OutputDir != "" {
		if err := os.MkdirAll(e.opts.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}

		lw, err := persistence.NewLogWriter(filepath.Join(e.opts.OutputDir, MatchLogFile))
		if err != nil {
			return nil, err
		}
		logSink, err := emitter.NewLogSink(persistence.NewLazyWriter(lw), emitter.RunHeader{
			RunID:      e.opts.RunID,
			Query:      e.opts.Name,
			WindowSize: e.opts.WindowSize,
			SlideSize:  e.opts.SlideSize,
			Started:    e.started,
		})
		if err != nil {
			lw.Close()
			return nil, err
		}

		f, err := os.Create(filepath.Join(e.opts.OutputDir, MatchTextFile))
		if err != nil {
			logSink.Close()
			return nil, fmt.Errorf("failed to create text output: %w", err)
		}

		e.exporter, err = metrics.NewCSVExporter(e.opts.OutputDir, e.rec, e.opts.ReportInterval)
		if err != nil {
			logSink.Close()
			f.Close()
			return nil, err
		}
		sinks = append(sinks, logSink, emitter.NewTextSink(f, e.opts.Namer))
	}
	return append(sinks, e.opts.Sinks...), nil
}

func (e *Engine) openEvaluator() error {
	so := stream.Options{
		WindowSize:     e.opts.WindowSize,
		SlideSize:      e.opts.SlideSize,
		EmitEmptyPaths: e.opts.EmitEmptyPaths,
		Semantics:      e.opts.Semantics,
		DedupCapacity:  e.opts.DedupCapacity,
	}
	if e.opts.Workers == 1 {
		so.OnAdvance = func(b window.Boundary) {
			if err := e.advanced(b); err != nil && e.sinkErr == nil {
				e.sinkErr = err
			}
		}
		var err error
		e.single, err = stream.New(e.aut, so)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	coord, err := parallel.New(ctx, e.aut, parallel.Options{
		Stream:  so,
		Workers: e.opts.Workers,
		Buffer:  1024,
		Query:   e.opts.Name,
		OnMatches: func(_ int, ms []stream.Match) error {
			return e.emit.Emit(ms)
		},
		OnAdvance: e.advanced,
	})
	if err != nil {
		cancel()
		return err
	}
	e.coord = coord
	e.cancel = cancel
	return nil
}

// Close stops the evaluator, flushes the sinks and writes the final report.
// It is safe to call more than once.
func (e *Engine) Close() error {
	var errs []error

	e.closeOnce.Do(func() {
		close(e.closed)
		e.wg.Wait()

		if e.coord != nil {
			errs = append(errs, e.coord.Close())
			e.cancel()
		}
		e.recordTotals()
		errs = append(errs, e.emit.Close())
		if e.exporter != nil {
			errs = append(errs, e.exporter.Close())
		}

		st := e.Stats()
		slog.Info("[ENGINE] run finished",
			"run_id", e.opts.RunID,
			"edges", st.Edges,
			"matches", st.Matches,
			"late", st.Late,
			"filtered", e.filtered,
			"elapsed", time.Since(e.started))
	})

	return errors.Join(errs...)
}

// backgroundTasks appends to the run report every ReportInterval.
// (Unexported: internal use only)
func (e *Engine) backgroundTasks() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closed:
			return
		case now := <-ticker.C:
			e.rec.Set(metrics.TotalTime, now.Sub(e.started).Milliseconds())
			if err := e.exporter.Turn(now); err != nil {
				slog.Error("[ENGINE] background report failed", "error", err)
			}
		}
	}
}

func (e *Engine) recordTotals() {
	e.rec.Set(metrics.TotalTime, time.Since(e.started).Milliseconds())
}
