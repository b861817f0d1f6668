package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorpath/internal/server"
	"github.com/sanonone/kektorpath/pkg/config"
	"github.com/sanonone/kektorpath/pkg/engine"
	"github.com/sanonone/kektorpath/pkg/input"
)

func newRunCmd() *cobra.Command {
	cfg := config.DefaultRun()
	var noEmptyPaths bool

	cmd := &cobra.Command{
		Use:   "run <window> <slide> <input-type> <input> <output-dir> [query-id argc predicates...]",
		Short: "Evaluate one query over an edge file",
		Long: `Evaluate one query over an edge file ("-" reads stdin).

Input types: s (src label dst), st (src label dst ts), i and it (integer ids).
Queries: ` + templateList() + `, or a raw expression with --rpq.

Results are written to <output-dir>/matches.tsv and matches.log, and the run
report to <output-dir>/report-*.csv.`,
		Args: cobra.MinimumNArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ParseArgs(args, &cfg); err != nil {
				return err
			}
			cfg.EmitEmptyPaths = !noEmptyPaths
			return runEval(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.RPQ, "rpq", "", "raw path expression instead of a query template")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "number of evaluation workers")
	f.StringVar(&cfg.Semantics, "semantics", cfg.Semantics, "accepting entries: retain or consume")
	f.BoolVar(&noEmptyPaths, "no-empty-paths", false, "do not report (v, v) for queries accepting the empty path")
	f.IntVar(&cfg.DedupCapacity, "dedup", 0, "size of the duplicate edge filter, 0 disables it")
	f.BoolVar(&cfg.Strict, "strict", false, "fail on malformed records instead of skipping them")
	f.Float64Var(&cfg.MaxRate, "max-rate", 0, "maximum edges per second, 0 for unlimited")
	f.DurationVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "how often the run report is appended to")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.DurationVar(&cfg.Timeout, "timeout", 0, "stop the run after this long, 0 for no limit")
	f.StringVar(&cfg.RunID, "run-id", "", "run identifier (uuid), generated when empty")
	return cmd
}

// runEval executes one validated run and prints its summary to out.
func runEval(ctx context.Context, cfg config.Run, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	kind, err := input.ParseKind(cfg.InputType)
	if err != nil {
		return err
	}
	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}

	var src io.Reader = os.Stdin
	if cfg.InputPath != "-" {
		f, err := os.Open(cfg.InputPath)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		src = f
	}

	var dict *input.Dictionary
	if !kind.IntegerIDs() {
		dict = input.NewDictionary()
		opts.Namer = dict.Namer()
	}

	if cfg.MetricsAddr != "" {
		srv := server.NewServer(cfg.MetricsAddr)
		go func() {
			if err := srv.Run(); err != nil {
				slog.Error("[CLI] metrics server stopped", "error", err)
			}
		}()
		defer srv.Shutdown()
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	e, err := engine.Open(opts)
	if err != nil {
		return err
	}
	reader := input.NewReader(src, kind, dict, cfg.Strict)
	runErr := e.Run(ctx, reader)
	closeErr := e.Close()

	if errors.Is(runErr, context.DeadlineExceeded) {
		slog.Warn("[CLI] run timed out", "run_id", e.RunID(), "timeout", cfg.Timeout, "line", reader.Line())
		runErr = nil
	}
	if err := errors.Join(runErr, closeErr); err != nil {
		return err
	}

	st := e.Stats()
	fmt.Fprintf(out, "run %s: %d lines read, %d edges applied, %d late, %d filtered, %d skipped, %d matches -> %s\n",
		e.RunID(), reader.Line(), st.Edges, st.Late, e.Filtered(), reader.Skipped(), st.Matches, cfg.OutputDir)
	return nil
}
