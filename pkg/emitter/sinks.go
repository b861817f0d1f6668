package emitter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sanonone/kektorpath/pkg/input"
	"github.com/sanonone/kektorpath/pkg/metrics"
	"github.com/sanonone/kektorpath/pkg/persistence"
	"github.com/sanonone/kektorpath/pkg/stream"
	"github.com/sanonone/kektorpath/pkg/window"
)

// Event is either a match or a boundary marker.
type Event struct {
	Match    *stream.Match
	Boundary *window.Boundary
}

// ChannelSink delivers events on a channel. Sends block until the consumer
// receives or ctx is done.
type ChannelSink struct {
	ctx context.Context
	ch  chan Event
}

// NewChannelSink returns a sink whose channel has the given buffer.
func NewChannelSink(ctx context.Context, buffer int) *ChannelSink {
	return &ChannelSink{ctx: ctx, ch: make(chan Event, buffer)}
}

// Events returns the receive side. It is closed by Close.
func (c *ChannelSink) Events() <-chan Event { return c.ch }

func (c *ChannelSink) send(ev Event) error {
	select {
	case c.ch <- ev:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *ChannelSink) Match(m stream.Match) error { return c.send(Event{Match: &m}) }

func (c *ChannelSink) Boundary(b window.Boundary) error { return c.send(Event{Boundary: &b}) }

func (c *ChannelSink) Close() error {
	close(c.ch)
	return nil
}

// TextSink writes one tab separated line per match:
//
//	window	source	target	path
//
// and a "# window N final" comment for every window a boundary closes.
type TextSink struct {
	w     *bufio.Writer
	c     io.Closer
	namer input.Namer
}

// NewTextSink writes to w, rendering vertices with namer. If w is an
// io.Closer it is closed by Close.
func NewTextSink(w io.Writer, namer input.Namer) *TextSink {
	if namer == nil {
		namer = input.IntegerNamer
	}
	s := &TextSink{w: bufio.NewWriter(w), namer: namer}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *TextSink) Match(m stream.Match) error {
	var path strings.Builder
	path.WriteString(s.namer(m.Source))
	for _, h := range m.Path {
		path.WriteString(" -")
		if h.Inverse {
			path.WriteByte('^')
		}
		path.WriteString(h.Label)
		path.WriteString("-> ")
		path.WriteString(s.namer(h.To))
	}
	_, err := fmt.Fprintf(s.w, "%d\t%s\t%s\t%s\n", m.Window, s.namer(m.Source), s.namer(m.Target), path.String())
	return err
}

func (s *TextSink) Boundary(b window.Boundary) error {
	for id := b.PrevID; id < b.ID; id++ {
		if _, err := fmt.Fprintf(s.w, "# window %d final\n", id); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

func (s *TextSink) Close() error {
	err := s.w.Flush()
	if s.c != nil {
		if cerr := s.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// frameWriter is implemented by persistence.LogWriter and LazyWriter.
type frameWriter interface {
	WriteFrame(op byte, payload []byte) error
	Close() error
}

// RunHeader opens a result log.
type RunHeader struct {
	RunID      string    `json:"run_id"`
	Query      string    `json:"query"`
	WindowSize uint64    `json:"window_size"`
	SlideSize  uint64    `json:"slide_size"`
	Started    time.Time `json:"started"`
}

type boundaryRecord struct {
	ID     uint64 `json:"id"`
	PrevID uint64 `json:"prev_id"`
	Lo     uint64 `json:"lo"`
	Hi     uint64 `json:"hi"`
}

// LogSink appends JSON payloads to a framed result log.
type LogSink struct {
	w frameWriter
}

// NewLogSink writes the run header and returns the sink.
func NewLogSink(w frameWriter, header RunHeader) (*LogSink, error) {
	payload, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	if err := w.WriteFrame(persistence.OpCodeRun, payload); err != nil {
		return nil, fmt.Errorf("failed to write run header: %w", err)
	}
	return &LogSink{w: w}, nil
}

func (s *LogSink) Match(m stream.Match) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.w.WriteFrame(persistence.OpCodeMatch, payload)
}

func (s *LogSink) Boundary(b window.Boundary) error {
	payload, err := json.Marshal(boundaryRecord{ID: b.ID, PrevID: b.PrevID, Lo: b.Lo, Hi: b.Hi})
	if err != nil {
		return err
	}
	return s.w.WriteFrame(persistence.OpCodeBoundary, payload)
}

func (s *LogSink) Close() error { return s.w.Close() }

// LogContents is a decoded result log.
type LogContents struct {
	Header     RunHeader
	Matches    []stream.Match
	Boundaries []window.Boundary
}

// ReadLog decodes the result log at path.
func ReadLog(path string) (LogContents, error) {
	var out LogContents
	records, err := persistence.ReadAll(path)
	if err != nil {
		return out, err
	}
	for i, r := range records {
		switch r.Op {
		case persistence.OpCodeRun:
			err = json.Unmarshal(r.Payload, &out.Header)
		case persistence.OpCodeMatch:
			var m stream.Match
			if err = json.Unmarshal(r.Payload, &m); err == nil {
				out.Matches = append(out.Matches, m)
			}
		case persistence.OpCodeBoundary:
			var b boundaryRecord
			if err = json.Unmarshal(r.Payload, &b); err == nil {
				out.Boundaries = append(out.Boundaries, window.Boundary{ID: b.ID, PrevID: b.PrevID, Lo: b.Lo, Hi: b.Hi})
			}
		default:
			err = fmt.Errorf("unknown opcode 0x%02x", r.Op)
		}
		if err != nil {
			return out, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return out, nil
}

// MetricsSink counts matches and window advances.
type MetricsSink struct {
	query string
	rec   *metrics.Recorder
}

// NewMetricsSink labels prometheus series with query and, if rec is not nil,
// keeps run totals in rec.
func NewMetricsSink(query string, rec *metrics.Recorder) *MetricsSink {
	return &MetricsSink{query: query, rec: rec}
}

func (s *MetricsSink) Match(stream.Match) error {
	metrics.MatchesTotal.WithLabelValues(s.query).Inc()
	if s.rec != nil {
		s.rec.Add(metrics.TotalMatches, 1)
	}
	return nil
}

func (s *MetricsSink) Boundary(window.Boundary) error {
	metrics.WindowAdvancesTotal.WithLabelValues(s.query).Inc()
	return nil
}

func (s *MetricsSink) Close() error { return nil }
