package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pred(l string) Predicate { return Predicate{Label: l} }
func inv(l string) Predicate  { return Predicate{Label: l, Inverse: true} }

func TestParse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected Path
	}{
		{name: "single label", input: "a", expected: pred("a")},
		{name: "prefixed label", input: ":knows", expected: pred("knows")},
		{name: "wildcard", input: "", expected: pred("")},
		{name: "grouped wildcard", input: "()", expected: pred("")},
		{name: "sequence", input: "a/b", expected: Sequence{Children: []Path{pred("a"), pred("b")}}},
		{name: "sequence of prefixed labels", input: ":a/:b", expected: Sequence{Children: []Path{pred("a"), pred("b")}}},
		{name: "nested sequence is flattened", input: "(a/b)/c", expected: Sequence{Children: []Path{pred("a"), pred("b"), pred("c")}}},
		{
			name:  "alternation binds loosest",
			input: "a|b/c",
			expected: Alternation{Children: []Path{
				pred("a"),
				Sequence{Children: []Path{pred("b"), pred("c")}},
			}},
		},
		{name: "inverse", input: "^a", expected: inv("a")},
		{name: "inverse in sequence", input: "a^b", expected: Sequence{Children: []Path{pred("a"), inv("b")}}},
		{name: "inverse of group reverses it", input: "^(a/b)", expected: Sequence{Children: []Path{inv("b"), inv("a")}}},
		{name: "inverse of repeat", input: "^a*", expected: Repeat{Child: inv("a"), Min: 0, Max: Unbounded}},
		{name: "star", input: "a*", expected: Repeat{Child: pred("a"), Min: 0, Max: Unbounded}},
		{name: "plus", input: "a+", expected: Repeat{Child: pred("a"), Min: 1, Max: Unbounded}},
		{name: "optional", input: "a?", expected: Repeat{Child: pred("a"), Min: 0, Max: 1}},
		{name: "exact bound", input: "a{3}", expected: Repeat{Child: pred("a"), Min: 3, Max: 3}},
		{name: "range bound", input: "a{2,5}", expected: Repeat{Child: pred("a"), Min: 2, Max: 5}},
		{name: "open upper bound", input: "a{2,}", expected: Repeat{Child: pred("a"), Min: 2, Max: Unbounded}},
		{name: "open lower bound", input: "a{,4}", expected: Repeat{Child: pred("a"), Min: 0, Max: 4}},
		{
			name:  "group with modifier",
			input: "(a/b/c)+",
			expected: Repeat{
				Child: Sequence{Children: []Path{pred("a"), pred("b"), pred("c")}},
				Min:   1, Max: Unbounded,
			},
		},
		{name: "whitespace ignored", input: " a / b ", expected: Sequence{Children: []Path{pred("a"), pred("b")}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		pos   int
		token string
	}{
		{name: "unclosed group", input: "(a", pos: 0, token: "("},
		{name: "unopened group", input: "a)", pos: 1, token: ")"},
		{name: "modifier on inverse", input: "^*", pos: 1, token: "*"},
		{name: "modifier on inverse in sequence", input: "a^+", pos: 2, token: "+"},
		{name: "double inverse", input: "^^a", pos: 1, token: "^"},
		{name: "empty braces", input: "a{}", pos: 1, token: "{"},
		{name: "comma only", input: "a{,}", pos: 1, token: "{"},
		{name: "reversed bounds", input: "a{3,2}", pos: 1, token: "{"},
		{name: "unterminated bounds", input: "a{2", pos: 3, token: ""},
		{name: "double modifier", input: "a**", pos: 2, token: "*"},
		{name: "bad label character", input: "a-b", pos: 1, token: "-"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSyntax))

			var se *SyntaxError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tc.pos, se.Pos)
			assert.Equal(t, tc.token, se.Token)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	inputs := []string{"a", "a/b", "a|b/c", "^(a/b)", "(a/b/c)+", "a{2,5}/b?", "(a|^b)*", "a/()/b", "a{,3}", "a{4,}"}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			first, err := Parse(in)
			require.NoError(t, err)
			second, err := Parse(first.String())
			require.NoError(t, err, "re-parse of %q", first.String())
			assert.Equal(t, first, second)
		})
	}
}

func TestInvertTwice(t *testing.T) {
	p := MustParse("a/(b|^c)*/d{1,3}")
	assert.Equal(t, p, Invert(Invert(p)))
}

func TestLabels(t *testing.T) {
	p := MustParse("a/(b|^a)*/()/c")
	assert.Equal(t, []string{"a", "b", "c"}, Labels(p))
	assert.True(t, HasWildcard(p))
	assert.False(t, HasWildcard(MustParse("a/b")))
}
