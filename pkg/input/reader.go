package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sanonone/kektorpath/pkg/stream"
)

// Kind selects how records are interpreted.
type Kind uint8

const (
	// String records have string vertex ids and no timestamp.
	String Kind = iota
	// StringTimestamped records have string vertex ids and a timestamp.
	StringTimestamped
	// Integer records have integer vertex ids and no timestamp.
	Integer
	// IntegerTimestamped records have integer vertex ids and a timestamp.
	IntegerTimestamped
)

// ParseKind maps the selectors s, st, i and it to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "s":
		return String, nil
	case "st":
		return StringTimestamped, nil
	case "i":
		return Integer, nil
	case "it":
		return IntegerTimestamped, nil
	}
	return 0, fmt.Errorf("unknown input type %q (want s, st, i or it)", s)
}

func (k Kind) String() string {
	switch k {
	case String:
		return "s"
	case StringTimestamped:
		return "st"
	case Integer:
		return "i"
	case IntegerTimestamped:
		return "it"
	}
	return "unknown"
}

// Timestamped reports whether records carry a fourth timestamp field.
func (k Kind) Timestamped() bool { return k == StringTimestamped || k == IntegerTimestamped }

// IntegerIDs reports whether vertex ids are parsed as integers.
func (k Kind) IntegerIDs() bool { return k == Integer || k == IntegerTimestamped }

// ErrMalformedRecord is matched by MalformedRecordError.
var ErrMalformedRecord = errors.New("malformed record")

// MalformedRecordError describes a line that could not be turned into an edge.
type MalformedRecordError struct {
	Line   int
	Text   string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at line %d (%s): %q", e.Line, e.Reason, e.Text)
}

func (e *MalformedRecordError) Is(target error) bool { return target == ErrMalformedRecord }

// maxLineLength bounds a single record. Longer lines are malformed.
var maxLineLength = 1 << 20

// Reader turns "source label target [timestamp]" lines into edges. Blank
// lines and lines starting with '#' are ignored. Without timestamps each
// edge gets the previous edge's time plus one.
type Reader struct {
	br     *bufio.Reader
	kind   Kind
	dict   *Dictionary
	strict bool

	line    int
	clock   uint64
	skipped int
}

// NewReader reads records of the given kind from r. dict is used for string
// ids and may be nil for integer kinds. In strict mode malformed records are
// returned as errors; otherwise they are logged and skipped.
func NewReader(r io.Reader, kind Kind, dict *Dictionary, strict bool) *Reader {
	if dict == nil && !kind.IntegerIDs() {
		dict = NewDictionary()
	}
	return &Reader{br: bufio.NewReaderSize(r, maxLineLength), kind: kind, dict: dict, strict: strict}
}

// Dictionary returns the dictionary used for string ids, or nil.
func (r *Reader) Dictionary() *Dictionary { return r.dict }

// Skipped returns how many malformed records were skipped.
func (r *Reader) Skipped() int { return r.skipped }

// Line returns the number of lines consumed so far.
func (r *Reader) Line() int { return r.line }

// Next returns the next edge or io.EOF.
func (r *Reader) Next() (stream.Edge, error) {
	for {
		raw, tooLong, err := r.readLine()
		if err != nil {
			return stream.Edge{}, err
		}
		r.line++

		var e stream.Edge
		if tooLong {
			err = r.malformed(raw, fmt.Sprintf("line exceeds %d bytes", maxLineLength))
		} else {
			text := strings.TrimSpace(raw)
			if text == "" || text[0] == '#' {
				continue
			}
			e, err = r.parse(text)
		}
		if err == nil {
			return e, nil
		}
		if r.strict {
			return stream.Edge{}, err
		}
		r.skipped++
		slog.Warn("[INPUT] skipping malformed record", "line", r.line, "error", err)
	}
}

// readLine returns the next line without its terminator. A line that does not
// fit the buffer is consumed to its end and reported with only its prefix.
func (r *Reader) readLine() (string, bool, error) {
	buf, err := r.br.ReadSlice('\n')
	switch {
	case err == nil:
		return string(buf[:len(buf)-1]), false, nil
	case errors.Is(err, bufio.ErrBufferFull):
		prefix := string(buf[:min(len(buf), 64)])
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = r.br.ReadSlice('\n')
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", false, fmt.Errorf("failed to read input: %w", err)
		}
		return prefix, true, nil
	case errors.Is(err, io.EOF):
		if len(buf) == 0 {
			return "", false, io.EOF
		}
		return string(buf), false, nil
	default:
		return "", false, fmt.Errorf("failed to read input: %w", err)
	}
}

func (r *Reader) parse(text string) (stream.Edge, error) {
	fields := strings.Fields(text)
	want := 3
	if r.kind.Timestamped() {
		want = 4
	}
	if len(fields) < want {
		return stream.Edge{}, r.malformed(text, fmt.Sprintf("expected %d fields, got %d", want, len(fields)))
	}

	ts := r.clock + 1
	if r.kind.Timestamped() {
		var err error
		ts, err = strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return stream.Edge{}, r.malformed(text, "invalid timestamp")
		}
	}
	src, err := r.vertex(fields[0])
	if err != nil {
		return stream.Edge{}, r.malformed(text, "invalid source id")
	}
	dst, err := r.vertex(fields[2])
	if err != nil {
		return stream.Edge{}, r.malformed(text, "invalid target id")
	}

	r.clock = ts
	return stream.Edge{Src: src, Label: fields[1], Dst: dst, Ts: ts}, nil
}

func (r *Reader) vertex(field string) (uint64, error) {
	if r.kind.IntegerIDs() {
		return strconv.ParseUint(field, 10, 64)
	}
	return r.dict.Intern(field), nil
}

func (r *Reader) malformed(text, reason string) error {
	return &MalformedRecordError{Line: r.line, Text: text, Reason: reason}
}
