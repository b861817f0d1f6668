// Package cli implements the kektorpath command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kektorpath",
		Short: "Evaluate regular path queries over windowed edge streams",
		Long: `kektorpath evaluates a regular path query over a stream of timestamped,
labeled edges and reports every pair of vertices connected by a path whose
label sequence the query accepts, within a sliding time window.

Examples:
  kektorpath run 3600 60 st edges.txt out query2 2 follows likes
  kektorpath run 10 1 it edges.txt out --rpq 'a/(b|^c)*'
  kektorpath batch experiment.yaml
  kektorpath parse 'a/b{2,3}'`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd.ErrOrStderr(), logLevel, logFormat)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(newRunCmd(), newBatchCmd(), newParseCmd())
	return root
}

func setupLogging(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("invalid --log-format %q", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
