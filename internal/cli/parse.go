package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorpath/pkg/automata"
	"github.com/sanonone/kektorpath/pkg/query"
)

func newParseCmd() *cobra.Command {
	var showAutomaton bool

	cmd := &cobra.Command{
		Use:   "parse <expression | query-id predicates...>",
		Short: "Show how an expression or query template is compiled",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				p   query.Path
				err error
			)
			if _, lerr := query.Lookup(args[0]); lerr == nil {
				p, err = query.Resolve(args[0], args[1:])
			} else {
				p, err = query.Parse(strings.Join(args, " "))
			}
			if err != nil {
				return err
			}
			printPath(cmd.OutOrStdout(), p, showAutomaton)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showAutomaton, "automaton", false, "print the compiled automaton")
	return cmd
}

func printPath(w io.Writer, p query.Path, showAutomaton bool) {
	aut := automata.Compile(p)
	fmt.Fprintf(w, "expression: %s\n", p)
	fmt.Fprintln(w, "tree:")
	printTree(w, p, 1)
	fmt.Fprintf(w, "labels: %s\n", strings.Join(query.Labels(p), ", "))
	fmt.Fprintf(w, "states: %d, counters: %d, cached configurations: %d, accepts empty path: %t\n",
		aut.NumStates(), aut.NumCounters(), aut.NumConfigs(), aut.AcceptsEmpty())
	if showAutomaton {
		fmt.Fprintln(w, aut)
	}
}

func printTree(w io.Writer, p query.Path, depth int) {
	indent := strings.Repeat("  ", depth)
	switch n := p.(type) {
	case query.Predicate:
		fmt.Fprintf(w, "%spredicate %s\n", indent, n)
	case query.Sequence:
		fmt.Fprintf(w, "%ssequence\n", indent)
		for _, c := range n.Children {
			printTree(w, c, depth+1)
		}
	case query.Alternation:
		fmt.Fprintf(w, "%salternation\n", indent)
		for _, c := range n.Children {
			printTree(w, c, depth+1)
		}
	case query.Repeat:
		upper := "inf"
		if n.Max != query.Unbounded {
			upper = fmt.Sprint(n.Max)
		}
		fmt.Fprintf(w, "%srepeat {%d,%s}\n", indent, n.Min, upper)
		printTree(w, n.Child, depth+1)
	}
}

func templateList() string {
	names := query.Names()
	parts := make([]string, 0, len(names))
	for _, n := range names {
		t, _ := query.Lookup(n)
		parts = append(parts, fmt.Sprintf("%s (%s)", n, t.Shape))
	}
	return strings.Join(parts, ", ")
}
