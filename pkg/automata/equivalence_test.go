package automata

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorpath/pkg/query"
)

// toRegexp renders a path over the labels a and b as a Go regular expression.
// Forward edges are lowercase letters and inverse edges uppercase letters.
func toRegexp(p query.Path) string {
	switch n := p.(type) {
	case query.Predicate:
		switch {
		case n.Wildcard() && n.Inverse:
			return "[AB]"
		case n.Wildcard():
			return "[ab]"
		case n.Inverse:
			return strings.ToUpper(n.Label)
		default:
			return n.Label
		}
	case query.Sequence:
		var sb strings.Builder
		for _, c := range n.Children {
			sb.WriteString("(?:" + toRegexp(c) + ")")
		}
		return sb.String()
	case query.Alternation:
		parts := make([]string, len(n.Children))
		for i, c := range n.Children {
			parts[i] = "(?:" + toRegexp(c) + ")"
		}
		return strings.Join(parts, "|")
	case query.Repeat:
		body := "(?:" + toRegexp(n.Child) + ")"
		if n.Max == query.Unbounded {
			return fmt.Sprintf("%s{%d,}", body, n.Min)
		}
		return fmt.Sprintf("%s{%d,%d}", body, n.Min, n.Max)
	}
	panic("unknown node")
}

// allWords enumerates every word over {a, b, A, B} up to maxLen symbols.
func allWords(maxLen int) []string {
	words := []string{""}
	frontier := []string{""}
	for l := 0; l < maxLen; l++ {
		var next []string
		for _, w := range frontier {
			for _, r := range "abAB" {
				next = append(next, w+string(r))
			}
		}
		words = append(words, next...)
		frontier = next
	}
	return words
}

func TestEquivalenceWithRegexp(t *testing.T) {
	expressions := []string{
		"a",
		"^a",
		"a/b",
		"a|b",
		"a*",
		"a+/b",
		"(a/b)*",
		"a/b*/a*",
		"(a/b/a)+",
		"a?/^b",
		"^(a/b)*",
		"()/a",
		"^()*/b",
		"a{2}",
		"a{1,3}/b",
		"(a|b){2,}",
		"(a/^b){0,2}",
		"(a{2}/b){1,2}",
		"(a?/b?){2,3}",
		"(a*|b){3}",
		"a/(b|^a){2,4}/a",
		"((a/b)|^b)+/a{0,1}",
	}
	words := allWords(6)

	for _, expr := range expressions {
		t.Run(expr, func(t *testing.T) {
			p := query.MustParse(expr)
			a := Compile(p)
			re, err := regexp.Compile("^(?:" + toRegexp(p) + ")$")
			require.NoError(t, err)

			for _, w := range words {
				require.Equal(t, re.MatchString(w), a.Accepts(word(w)), "expression %s on word %q", expr, w)
			}
		})
	}
}
