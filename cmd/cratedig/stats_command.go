package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cratedig/internal/config"
	"cratedig/internal/stats"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var (
		indexPath  string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize a run index",
		Long: `Aggregate one run index without touching the archive or the output
tree: per-label counts and confidence spreads, misc routing, duplicate
counts, error breakdown, and a confidence histogram.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			resolved, err := config.ExpandPath(indexPath)
			if err != nil {
				return fmt.Errorf("resolve index path: %w", err)
			}
			logger, err := ctx.buildLogger(cfg)
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}

			report, err := stats.Compute(resolved, logger)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}
			renderStatsReport(cmd, report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&indexPath, "index", "i", "", "Run index to summarize (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the report as JSON")
	_ = cmd.MarkFlagRequired("index")

	return cmd
}

func renderStatsReport(cmd *cobra.Command, report *stats.Report) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Index: %s\n", report.IndexPath)
	fmt.Fprintf(out, "  Entries:    %d (%d processed, %d errored)\n",
		report.TotalEntries, report.Processed, report.Errored)
	if report.Duplicates > 0 {
		fmt.Fprintf(out, "  Duplicates: %d\n", report.Duplicates)
	}
	if report.MiscRouted > 0 {
		fmt.Fprintf(out, "  Misc:       %d routed (%d below threshold, %d out of target)\n",
			report.MiscRouted, report.BelowThreshold, report.OutOfTarget)
	}
	fmt.Fprintf(out, "  Audio:      %s across %s\n",
		formatSeconds(report.TotalDurationSec), humanize.Bytes(uint64(report.TotalBytes)))
	if report.Processed > 0 {
		fmt.Fprintf(out, "  Mean conf:  %.3f\n", report.MeanConfidence)
	}
	if report.Truncated {
		fmt.Fprintln(out, "  Warning:    index ends in a truncated line; final entry ignored")
	}

	if len(report.Labels) > 0 {
		rows := make([][]string, 0, len(report.Labels))
		for _, label := range report.Labels {
			share := 0.0
			if report.Processed > 0 {
				share = float64(label.Count) / float64(report.Processed) * 100
			}
			rows = append(rows, []string{
				label.Label,
				fmt.Sprintf("%d", label.Count),
				fmt.Sprintf("%.1f%%", share),
				fmt.Sprintf("%.3f", label.MinConf),
				fmt.Sprintf("%.3f", label.MeanConf),
				fmt.Sprintf("%.3f", label.MaxConf),
				formatSeconds(label.DurationSec),
				humanize.Bytes(uint64(label.Bytes)),
			})
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderTable(
			[]string{"Label", "Count", "Share", "Min", "Mean", "Max", "Duration", "Size"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
		))
	}

	if len(report.Reasons) > 0 {
		fmt.Fprintf(out, "\nRouting reasons: %s\n", formatLabelCounts(report.Reasons))
	}
	if len(report.ErrorBreakdown) > 0 {
		fmt.Fprintf(out, "Errors: %s\n", formatLabelCounts(report.ErrorBreakdown))
	}
	if report.Processed > 0 {
		fmt.Fprintln(out, "\nConfidence histogram:")
		renderHistogram(cmd, report.Histogram)
	}
}

const histogramWidth = 40

func renderHistogram(cmd *cobra.Command, buckets []int) {
	out := cmd.OutOrStdout()
	max := 0
	for _, count := range buckets {
		if count > max {
			max = count
		}
	}
	for i, count := range buckets {
		lo := float64(i) / float64(len(buckets))
		hi := float64(i+1) / float64(len(buckets))
		width := 0
		if max > 0 {
			width = count * histogramWidth / max
		}
		fmt.Fprintf(out, "  %.1f-%.1f %-*s %d\n", lo, hi, histogramWidth, strings.Repeat("#", width), count)
	}
}

// formatSeconds renders a duration total compactly: "42.0s" below a
// minute, "3m12s" style above.
func formatSeconds(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	d := time.Duration(seconds * float64(time.Second))
	return d.Round(time.Second).String()
}
