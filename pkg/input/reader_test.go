package input

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorpath/pkg/stream"
)

func readAll(t *testing.T, r *Reader) []stream.Edge {
	t.Helper()
	var out []stream.Edge
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, e)
	}
}

func TestParseKind(t *testing.T) {
	for _, sel := range []string{"s", "st", "i", "it"} {
		k, err := ParseKind(sel)
		require.NoError(t, err)
		assert.Equal(t, sel, k.String())
	}
	_, err := ParseKind("x")
	assert.Error(t, err)

	assert.True(t, IntegerTimestamped.Timestamped())
	assert.True(t, IntegerTimestamped.IntegerIDs())
	assert.False(t, String.Timestamped())
	assert.False(t, StringTimestamped.IntegerIDs())
}

func TestReaderKinds(t *testing.T) {
	testCases := []struct {
		name     string
		kind     Kind
		input    string
		expected []stream.Edge
	}{
		{
			name:  "integer timestamped",
			kind:  IntegerTimestamped,
			input: "1 a 2 10\n2 b 3 12\n",
			expected: []stream.Edge{
				{Src: 1, Label: "a", Dst: 2, Ts: 10},
				{Src: 2, Label: "b", Dst: 3, Ts: 12},
			},
		},
		{
			name:  "integer with logical time",
			kind:  Integer,
			input: "1 a 2\n\n# comment\n2 b 3\n",
			expected: []stream.Edge{
				{Src: 1, Label: "a", Dst: 2, Ts: 1},
				{Src: 2, Label: "b", Dst: 3, Ts: 2},
			},
		},
		{
			name:  "string ids are interned",
			kind:  String,
			input: "alice knows bob\nbob knows alice\n",
			expected: []stream.Edge{
				{Src: 1, Label: "knows", Dst: 2, Ts: 1},
				{Src: 2, Label: "knows", Dst: 1, Ts: 2},
			},
		},
		{
			name:  "string timestamped with tabs",
			kind:  StringTimestamped,
			input: "alice\tknows\tbob\t100\n",
			expected: []stream.Edge{
				{Src: 1, Label: "knows", Dst: 2, Ts: 100},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tc.input), tc.kind, nil, true)
			assert.Equal(t, tc.expected, readAll(t, r))
		})
	}
}

func TestReaderSkipsMalformed(t *testing.T) {
	input := "1 a 2 5\n1 a\nx a 2 6\n1 a 2 seven\n3 b 4 8\n"
	r := NewReader(strings.NewReader(input), IntegerTimestamped, nil, false)
	edges := readAll(t, r)
	assert.Equal(t, []stream.Edge{
		{Src: 1, Label: "a", Dst: 2, Ts: 5},
		{Src: 3, Label: "b", Dst: 4, Ts: 8},
	}, edges)
	assert.Equal(t, 3, r.Skipped())
	assert.Equal(t, 5, r.Line())
}

func TestReaderStrict(t *testing.T) {
	r := NewReader(strings.NewReader("1 a 2 5\n1 a\n"), IntegerTimestamped, nil, true)
	_, err := r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedRecord))
	var mre *MalformedRecordError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, 2, mre.Line)
}

func TestReaderOverlongLine(t *testing.T) {
	long := "1 " + strings.Repeat("a", 2*maxLineLength) + " 2 6"
	input := "1 a 2 5\n" + long + "\n3 b 4 8"

	r := NewReader(strings.NewReader(input), IntegerTimestamped, nil, false)
	edges := readAll(t, r)
	assert.Equal(t, []stream.Edge{
		{Src: 1, Label: "a", Dst: 2, Ts: 5},
		{Src: 3, Label: "b", Dst: 4, Ts: 8},
	}, edges)
	assert.Equal(t, 1, r.Skipped())
	assert.Equal(t, 3, r.Line())

	r = NewReader(strings.NewReader(input), IntegerTimestamped, nil, true)
	_, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	var mre *MalformedRecordError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, 2, mre.Line)
	assert.Contains(t, mre.Reason, "exceeds")
}

func TestDictionary(t *testing.T) {
	d := NewDictionary()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, n := range []string{"a", "b", "c"} {
				d.Intern(n)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, d.Len())

	id, ok := d.Lookup("b")
	require.True(t, ok)
	name, ok := d.Name(id)
	require.True(t, ok)
	assert.Equal(t, "b", name)

	_, ok = d.Name(0)
	assert.False(t, ok)
	assert.Equal(t, "99", d.Namer()(99))
	assert.Equal(t, "b", d.Namer()(id))
}
