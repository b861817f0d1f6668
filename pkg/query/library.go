package query

import (
	"sort"
	"strconv"
)

// Template is a named query shape whose labels are bound to predicates at
// run time. Placeholder labels are p0, p1, ... in the shape.
type Template struct {
	Name       string
	Shape      Path
	Predicates int
}

var library = map[string]Template{
	"query1": {Name: "query1", Shape: MustParse("p0*"), Predicates: 1},
	"join":   {Name: "join", Shape: MustParse("p0/p1"), Predicates: 2},
	"query2": {Name: "query2", Shape: MustParse("p0/p1*"), Predicates: 2},
	"query3": {Name: "query3", Shape: MustParse("p0/p1*/p2*"), Predicates: 3},
	"query4": {Name: "query4", Shape: MustParse("(p0/p1/p2)+"), Predicates: 3},
}

// Lookup returns the template registered under name.
func Lookup(name string) (Template, error) {
	t, ok := library[name]
	if !ok {
		return Template{}, &UnsupportedQueryError{Name: name}
	}
	return t, nil
}

// Names lists the registered template names in sorted order.
func Names() []string {
	out := make([]string, 0, len(library))
	for name := range library {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Bind substitutes the placeholders of the template with predicates.
func (t Template) Bind(predicates []string) (Path, error) {
	if len(predicates) != t.Predicates {
		return nil, &UnsupportedQueryError{Name: t.Name, Expected: t.Predicates, Got: len(predicates)}
	}
	mapping := make(map[string]string, len(predicates))
	for i, p := range predicates {
		mapping["p"+strconv.Itoa(i)] = p
	}
	return Relabel(t.Shape, mapping), nil
}

// Resolve looks up a template by name and binds it in one step.
func Resolve(name string, predicates []string) (Path, error) {
	t, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return t.Bind(predicates)
}
