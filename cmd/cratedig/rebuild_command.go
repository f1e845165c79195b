package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"cratedig/internal/config"
	"cratedig/internal/labels"
	"cratedig/internal/logging"
	"cratedig/internal/overrides"
	"cratedig/internal/preflight"
	"cratedig/internal/rebuild"
	"cratedig/internal/routing"
	"cratedig/internal/runcatalog"
)

func newRebuildCommand(ctx *commandContext) *cobra.Command {
	var (
		indexPath     string
		outputDir     string
		mode          string
		targetLabels  []string
		emitAll       bool
		overridesPath string
		clean         bool
		dedup         string
	)

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Materialize a labeled library from a run index",
		Long: `Read an existing run index, re-route every entry under the current
rules (threshold, target labels, canonical collapse, overrides), and
place the archive files into one directory per label without touching
the predictor.

The same index rebuilt twice with the same settings produces the same
tree and byte-identical manifests, so routing rules can be iterated on
freely after a single classification pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			resolvedIndex, err := config.ExpandPath(indexPath)
			if err != nil {
				return fmt.Errorf("resolve index path: %w", err)
			}
			if strings.TrimSpace(outputDir) != "" {
				expanded, err := config.ExpandPath(outputDir)
				if err != nil {
					return fmt.Errorf("resolve output path: %w", err)
				}
				cfg.Paths.OutputDir = expanded
			}
			if cfg.Paths.OutputDir == "" {
				return fmt.Errorf("no output root: pass --output or configure paths.output_dir")
			}
			if strings.TrimSpace(overridesPath) != "" {
				expanded, err := config.ExpandPath(overridesPath)
				if err != nil {
					return fmt.Errorf("resolve overrides path: %w", err)
				}
				cfg.Paths.OverridesPath = expanded
			}
			if cmd.Flags().Changed("labels") {
				cfg.Routing.TargetLabels = targetLabels
			}
			if emitAll {
				cfg.Routing.EmitAll = true
			}
			if strings.TrimSpace(mode) != "" {
				cfg.Rebuild.Mode = strings.TrimSpace(mode)
			}
			if clean {
				cfg.Rebuild.Clean = true
			}
			if strings.TrimSpace(dedup) != "" {
				cfg.Inference.Dedup = strings.TrimSpace(dedup)
			}

			logger, err := ctx.buildLogger(cfg)
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			return runRebuild(cmd, cfg, logger, resolvedIndex)
		},
	}

	cmd.Flags().StringVarP(&indexPath, "index", "i", "", "Run index to rebuild from (required)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output root (default: configured output_dir)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Placement mode: copy, symlink, or hardlink")
	cmd.Flags().StringSliceVar(&targetLabels, "labels", nil, "Keep only these labels; everything else routes to misc")
	cmd.Flags().BoolVar(&emitAll, "emit-all", false, "Keep model labels on below-threshold and out-of-target files")
	cmd.Flags().StringVar(&overridesPath, "overrides", "", "Override records (default: configured overrides_path)")
	cmd.Flags().BoolVar(&clean, "clean", false, "Remove previously materialized label dirs first")
	cmd.Flags().StringVar(&dedup, "dedup", "", "Duplicate policy: skip, tag, or off")
	_ = cmd.MarkFlagRequired("index")

	return cmd
}

func runRebuild(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, indexPath string) error {
	if err := preflight.Err(preflight.RunRebuild(cfg, indexPath)); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var collapse *labels.Collapse
	if cfg.Predictor.CanonicalMapPath != "" {
		loaded, err := labels.LoadCollapse(cfg.Predictor.CanonicalMapPath)
		if err != nil {
			return err
		}
		collapse = loaded
	}
	overrideMap, err := overrides.Load(cfg.Paths.OverridesPath, logger)
	if err != nil {
		return err
	}

	progress, finishProgress := newProgressBar("rebuilding")
	engine, err := rebuild.New(rebuild.Options{
		IndexPath:     indexPath,
		OutputRoot:    cfg.Paths.OutputDir,
		Mode:          cfg.Rebuild.Mode,
		Clean:         cfg.Rebuild.Clean,
		Dedup:         cfg.Inference.Dedup,
		HashAlgorithm: cfg.Inference.HashAlgorithm,
		MinFreeRatio:  cfg.Rebuild.MinFreeRatio,
		Workers:       cfg.Inference.Workers,
		Routing: routing.Config{
			MiscThreshold: cfg.Routing.MiscThreshold,
			TargetLabels:  cfg.Routing.TargetLabels,
			EmitAll:       cfg.Routing.EmitAll,
			MiscLabel:     cfg.Routing.MiscLabel,
			Collapse:      collapse,
		},
		Overrides: overrideMap.Labels(),
		Logger:    logger,
		Progress:  progress,
	})
	if err != nil {
		return err
	}

	summary, runErr := engine.Run(signalCtx)
	finishProgress()
	if summary != nil {
		recordRebuildRun(cfg, logger, indexPath, summary, runErr)
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) && summary != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Interrupted; %d of %d files placed\n", summary.Placed, summary.Planned)
		}
		return runErr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Rebuild complete: %s mode into %s\n", summary.Mode, cfg.Paths.OutputDir)
	fmt.Fprintf(out, "  Placed:    %d of %d planned (%d unchanged)\n", summary.Placed, summary.Planned, summary.Unchanged)
	if summary.Collisions > 0 {
		fmt.Fprintf(out, "  Renamed:   %d name collisions\n", summary.Collisions)
	}
	if summary.SkippedErrors > 0 {
		fmt.Fprintf(out, "  Errored:   %d entries listed in %s\n", summary.SkippedErrors, rebuild.ErrorsFileName)
	}
	if summary.SkippedDuplicates > 0 {
		fmt.Fprintf(out, "  Dupes:     %d skipped\n", summary.SkippedDuplicates)
	}
	if summary.OverridesApplied > 0 {
		fmt.Fprintf(out, "  Overrides: %d applied\n", summary.OverridesApplied)
	}
	fmt.Fprintf(out, "  Labels:    %s\n", formatLabelCounts(summary.LabelDistribution))
	fmt.Fprintf(out, "  Elapsed:   %.1fs\n", summary.ElapsedSec)
	return nil
}

// formatLabelCounts renders a distribution as "kick=12 snare=9 ...",
// largest first, names breaking ties.
func formatLabelCounts(distribution map[string]int) string {
	if len(distribution) == 0 {
		return "(none)"
	}
	names := make([]string, 0, len(distribution))
	for name := range distribution {
		names = append(names, name)
	}
	sort.Slice(names, func(a, b int) bool {
		if distribution[names[a]] != distribution[names[b]] {
			return distribution[names[a]] > distribution[names[b]]
		}
		return names[a] < names[b]
	})
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, distribution[name]))
	}
	return strings.Join(parts, " ")
}

func recordRebuildRun(cfg *config.Config, logger *slog.Logger, indexPath string, summary *rebuild.Summary, runErr error) {
	catalog, err := runcatalog.Open(cfg.RunCatalogPath())
	if err != nil {
		logger.Warn("open run catalog", logging.Error(err))
		return
	}
	defer catalog.Close()

	status := runcatalog.StatusCompleted
	switch {
	case summary.Interrupted:
		status = runcatalog.StatusInterrupted
	case runErr != nil:
		status = runcatalog.StatusFailed
	}
	run := runcatalog.Run{
		RunID:          summary.RunID,
		Phase:          summary.Phase,
		Status:         status,
		StartedAt:      summary.StartedAt,
		FinishedAt:     summary.FinishedAt,
		IndexPath:      indexPath,
		OutputRoot:     cfg.Paths.OutputDir,
		FilesProcessed: summary.Placed + summary.Unchanged,
		FilesErrored:   summary.SkippedErrors,
		FilesSkipped:   summary.SkippedDuplicates,
	}
	if _, err := catalog.Record(context.Background(), run); err != nil {
		logger.Warn("record rebuild in catalog", logging.Error(err))
	}
}
