// Package query parses regular path query expressions into an immutable AST.
package query

import (
	"strconv"
	"strings"
)

// Unbounded marks a repetition without an upper bound.
const Unbounded = -1

// Path is a node of a parsed regular path query.
// Nodes are immutable once returned by Parse.
type Path interface {
	String() string
	pathNode()
}

// Predicate matches a single edge by label. An empty label matches any label.
// Inverse predicates traverse the edge from target to source.
type Predicate struct {
	Label   string
	Inverse bool
}

// Sequence matches its children one after another.
type Sequence struct {
	Children []Path
}

// Alternation matches any one of its children.
type Alternation struct {
	Children []Path
}

// Repeat matches Child between Min and Max times. Max is Unbounded for * and +.
type Repeat struct {
	Child Path
	Min   int
	Max   int
}

func (Predicate) pathNode()   {}
func (Sequence) pathNode()    {}
func (Alternation) pathNode() {}
func (Repeat) pathNode()      {}

// Wildcard reports whether the predicate matches every label.
func (p Predicate) Wildcard() bool { return p.Label == "" }

func (p Predicate) String() string {
	var sb strings.Builder
	if p.Inverse {
		sb.WriteByte('^')
	}
	if p.Label == "" {
		sb.WriteString("()")
	} else {
		sb.WriteString(p.Label)
	}
	return sb.String()
}

func (s Sequence) String() string { return join(s.Children, "/") }

func (a Alternation) String() string { return join(a.Children, "|") }

func (r Repeat) String() string {
	var mod string
	switch {
	case r.Min == 0 && r.Max == Unbounded:
		mod = "*"
	case r.Min == 1 && r.Max == Unbounded:
		mod = "+"
	case r.Min == 0 && r.Max == 1:
		mod = "?"
	case r.Max == Unbounded:
		mod = "{" + strconv.Itoa(r.Min) + ",}"
	case r.Min == r.Max:
		mod = "{" + strconv.Itoa(r.Min) + "}"
	default:
		mod = "{" + strconv.Itoa(r.Min) + "," + strconv.Itoa(r.Max) + "}"
	}
	return wrap(r.Child) + mod
}

func join(children []Path, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = wrap(c)
	}
	return strings.Join(parts, sep)
}

// wrap parenthesizes composite nodes so String output re-parses to the same tree.
func wrap(p Path) string {
	switch p.(type) {
	case Predicate:
		return p.String()
	default:
		return "(" + p.String() + ")"
	}
}

// Invert returns the path read backwards: sequences are reversed and every
// predicate flips direction. Inverting twice yields an equivalent path.
func Invert(p Path) Path {
	switch n := p.(type) {
	case Predicate:
		return Predicate{Label: n.Label, Inverse: !n.Inverse}
	case Sequence:
		out := make([]Path, len(n.Children))
		for i, c := range n.Children {
			out[len(n.Children)-1-i] = Invert(c)
		}
		return Sequence{Children: out}
	case Alternation:
		out := make([]Path, len(n.Children))
		for i, c := range n.Children {
			out[i] = Invert(c)
		}
		return Alternation{Children: out}
	case Repeat:
		return Repeat{Child: Invert(n.Child), Min: n.Min, Max: n.Max}
	}
	return p
}

// Labels returns the distinct non-wildcard labels used by the path, in order of
// first appearance.
func Labels(p Path) []string {
	seen := make(map[string]struct{})
	var out []string
	Walk(p, func(pred Predicate) {
		if pred.Wildcard() {
			return
		}
		if _, ok := seen[pred.Label]; ok {
			return
		}
		seen[pred.Label] = struct{}{}
		out = append(out, pred.Label)
	})
	return out
}

// HasWildcard reports whether any predicate of the path matches every label.
func HasWildcard(p Path) bool {
	found := false
	Walk(p, func(pred Predicate) {
		if pred.Wildcard() {
			found = true
		}
	})
	return found
}

// Walk calls fn for every predicate of the path, left to right.
func Walk(p Path, fn func(Predicate)) {
	switch n := p.(type) {
	case Predicate:
		fn(n)
	case Sequence:
		for _, c := range n.Children {
			Walk(c, fn)
		}
	case Alternation:
		for _, c := range n.Children {
			Walk(c, fn)
		}
	case Repeat:
		Walk(n.Child, fn)
	}
}

// Relabel returns a copy of the path with labels replaced through mapping.
// Labels missing from mapping are kept.
func Relabel(p Path, mapping map[string]string) Path {
	switch n := p.(type) {
	case Predicate:
		if l, ok := mapping[n.Label]; ok {
			return Predicate{Label: l, Inverse: n.Inverse}
		}
		return n
	case Sequence:
		out := make([]Path, len(n.Children))
		for i, c := range n.Children {
			out[i] = Relabel(c, mapping)
		}
		return Sequence{Children: out}
	case Alternation:
		out := make([]Path, len(n.Children))
		for i, c := range n.Children {
			out[i] = Relabel(c, mapping)
		}
		return Alternation{Children: out}
	case Repeat:
		return Repeat{Child: Relabel(n.Child, mapping), Min: n.Min, Max: n.Max}
	}
	return p
}
