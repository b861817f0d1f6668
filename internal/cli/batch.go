package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sanonone/kektorpath/pkg/config"
)

func newBatchCmd() *cobra.Command {
	var keepGoing bool

	cmd := &cobra.Command{
		Use:   "batch <experiment.yaml>",
		Short: "Run every entry of an experiment file",
		Long: `Run every entry of an experiment file in order. Each run reports into
<report-folder>/<query-name>-<index> and is stopped after the experiment's
timeout.

Example experiment:
  dataset: edges.txt
  input-type: it
  report-folder: reports
  timeout: 10m
  runs:
    - query-name: query2
      index: 0
      exec-name: spath
      predicates: [follows, likes]
      window-size: 3600
      slide-size: 60`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := config.LoadExperiment(args[0])
			if err != nil {
				return err
			}
			runs, err := exp.RunConfigs()
			if err != nil {
				return err
			}

			var errs []error
			for i, r := range runs {
				slog.Info("[CLI] experiment run", "index", i, "of", len(runs), "query", r.Query, "output", r.OutputDir)
				if err := runEval(cmd.Context(), r, cmd.OutOrStdout()); err != nil {
					err = fmt.Errorf("run %d (%s): %w", i, r.Query, err)
					if !keepGoing {
						return err
					}
					slog.Error("[CLI] experiment run failed", "error", err)
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "continue with the next run after a failure")
	return cmd
}
