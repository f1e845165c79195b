package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cratedig/internal/index"
	"cratedig/internal/runcatalog"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past classification and rebuild runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			catalog, err := runcatalog.Open(cfg.RunCatalogPath())
			if err != nil {
				return fmt.Errorf("open run catalog: %w", err)
			}
			defer catalog.Close()

			runs, err := catalog.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			if jsonOutput {
				return writeJSON(cmd, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs yet")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.RunID,
					run.Phase,
					string(run.Status),
					humanize.Time(run.StartedAt),
					fmt.Sprintf("%d", run.FilesProcessed),
					fmt.Sprintf("%d", run.FilesErrored),
					runLocation(run),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Run", "Phase", "Status", "Started", "Files", "Errors", "Location"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum rows to show (default 20)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the listing as JSON")

	return cmd
}

// runLocation picks the most useful path for the listing: the run
// directory for classification runs, the output root for rebuilds.
func runLocation(run runcatalog.Run) string {
	if run.Phase == index.PhaseRebuild && run.OutputRoot != "" {
		return run.OutputRoot
	}
	if run.RunDir != "" {
		return run.RunDir
	}
	return run.IndexPath
}
