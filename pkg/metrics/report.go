package metrics

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Run metric names written to the report directory, one CSV file each.
const (
	BatchLatency = "batch-latency" // microseconds spent on the edges of one slide
	BatchSize    = "batch-size"    // edges per slide
	TotalLatency = "total-latency" // microseconds per edge
	TotalSize    = "total-size"    // edges read
	TotalTime    = "total-time"    // milliseconds since the run started
	TotalMatches = "total-matches"
)

// Quantiles reported for every histogram.
var Quantiles = []float64{0.25, 0.5, 0.75, 0.9, 0.99, 0.999}

// Summary describes a set of samples.
type Summary struct {
	Count     int
	Mean      float64
	Quantiles []float64 // aligned with the package-level Quantiles
}

// Summarize computes count, mean and quantiles. samples is sorted in place.
func Summarize(samples []float64) Summary {
	s := Summary{Count: len(samples), Quantiles: make([]float64, len(Quantiles))}
	if len(samples) == 0 {
		return s
	}
	sort.Float64s(samples)
	s.Mean = stat.Mean(samples, nil)
	for i, q := range Quantiles {
		s.Quantiles[i] = stat.Quantile(q, stat.Empirical, samples, nil)
	}
	return s
}

// QuantileLabel renders 0.25 as "p25" and 0.999 as "p999".
func QuantileLabel(q float64) string {
	digits := strconv.FormatFloat(q, 'f', -1, 64)
	if len(digits) > 2 && digits[:2] == "0." {
		digits = digits[2:]
	}
	if len(digits) == 1 {
		digits += "0"
	}
	return "p" + digits
}

// Measurement is one CSV row for one metric.
type Measurement struct {
	Name    string
	Headers []string
	Values  []string
}

// Recorder accumulates run metrics in memory. Histograms keep every sample
// for the whole run; counters and gauges keep their latest value.
type Recorder struct {
	mu       sync.Mutex
	hists    map[string][]float64
	counters map[string]uint64
	gauges   map[string]int64
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		hists:    make(map[string][]float64),
		counters: make(map[string]uint64),
		gauges:   make(map[string]int64),
	}
}

// Observe adds a histogram sample.
func (r *Recorder) Observe(name string, v float64) {
	r.mu.Lock()
	r.hists[name] = append(r.hists[name], v)
	r.mu.Unlock()
}

// Add increments a counter.
func (r *Recorder) Add(name string, delta uint64) {
	r.mu.Lock()
	r.counters[name] += delta
	r.mu.Unlock()
}

// Set sets a gauge.
func (r *Recorder) Set(name string, v int64) {
	r.mu.Lock()
	r.gauges[name] = v
	r.mu.Unlock()
}

// Counter returns the current value of a counter.
func (r *Recorder) Counter(name string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// Summary summarizes a histogram.
func (r *Recorder) Summary(name string) Summary {
	r.mu.Lock()
	samples := append([]float64(nil), r.hists[name]...)
	r.mu.Unlock()
	return Summarize(samples)
}

// Measurements renders every metric as a CSV row stamped with now, sorted by
// metric name.
func (r *Recorder) Measurements(now time.Time) []Measurement {
	r.mu.Lock()
	names := make([]string, 0, len(r.hists)+len(r.counters)+len(r.gauges))
	for n := range r.hists {
		names = append(names, n)
	}
	for n := range r.counters {
		names = append(names, n)
	}
	for n := range r.gauges {
		names = append(names, n)
	}
	hists := make(map[string][]float64, len(r.hists))
	for n, s := range r.hists {
		hists[n] = append([]float64(nil), s...)
	}
	counters := make(map[string]uint64, len(r.counters))
	for n, v := range r.counters {
		counters[n] = v
	}
	gauges := make(map[string]int64, len(r.gauges))
	for n, v := range r.gauges {
		gauges[n] = v
	}
	r.mu.Unlock()

	sort.Strings(names)
	ts := strconv.FormatInt(now.Unix(), 10)
	out := make([]Measurement, 0, len(names))
	for _, name := range names {
		m := Measurement{Name: name, Headers: []string{"timestamp"}, Values: []string{ts}}
		if samples, ok := hists[name]; ok {
			s := Summarize(samples)
			m.Headers = append(m.Headers, "count", "mean")
			m.Values = append(m.Values, strconv.Itoa(s.Count), formatFloat(s.Mean))
			for i, q := range Quantiles {
				m.Headers = append(m.Headers, QuantileLabel(q))
				m.Values = append(m.Values, formatFloat(s.Quantiles[i]))
			}
		} else if v, ok := counters[name]; ok {
			m.Headers = append(m.Headers, name)
			m.Values = append(m.Values, strconv.FormatUint(v, 10))
		} else {
			m.Headers = append(m.Headers, name)
			m.Values = append(m.Values, strconv.FormatInt(gauges[name], 10))
		}
		out = append(out, m)
	}
	return out
}

// ReportFile is the name of the CSV file holding metric name.
func ReportFile(name string) string { return "report-" + name + ".csv" }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// CSVExporter appends the recorder's measurements to <dir>/report-<metric>.csv.
// The header row is written when a file is first created.
type CSVExporter struct {
	dir      string
	rec      *Recorder
	interval time.Duration

	mu      sync.Mutex
	files   map[string]*os.File
	writers map[string]*csv.Writer
}

// NewCSVExporter creates dir if needed.
func NewCSVExporter(dir string, rec *Recorder, interval time.Duration) (*CSVExporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create report directory %s: %w", dir, err)
	}
	return &CSVExporter{
		dir:      dir,
		rec:      rec,
		interval: interval,
		files:    make(map[string]*os.File),
		writers:  make(map[string]*csv.Writer),
	}, nil
}

// Turn writes one row per metric.
func (x *CSVExporter) Turn(now time.Time) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, m := range x.rec.Measurements(now) {
		w, ok := x.writers[m.Name]
		if !ok {
			f, err := os.Create(filepath.Join(x.dir, ReportFile(m.Name)))
			if err != nil {
				return fmt.Errorf("cannot create report file for %s: %w", m.Name, err)
			}
			w = csv.NewWriter(f)
			if err := w.Write(m.Headers); err != nil {
				return err
			}
			x.files[m.Name] = f
			x.writers[m.Name] = w
		}
		if err := w.Write(m.Values); err != nil {
			return err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
	}
	return nil
}

// Run calls Turn every interval until ctx is done.
func (x *CSVExporter) Run(ctx context.Context) {
	ticker := time.NewTicker(x.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := x.Turn(time.Now()); err != nil {
				slog.Error("[METRICS] report failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close writes a final row and closes every file.
func (x *CSVExporter) Close() error {
	err := x.Turn(time.Now())
	x.mu.Lock()
	defer x.mu.Unlock()
	for name, f := range x.files {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(x.files, name)
		delete(x.writers, name)
	}
	return err
}
