package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cratedig/internal/config"
	"cratedig/internal/hashcache"
	"cratedig/internal/inference"
	"cratedig/internal/labels"
	"cratedig/internal/logging"
	"cratedig/internal/overrides"
	"cratedig/internal/preflight"
	"cratedig/internal/runcatalog"
	"cratedig/internal/services/predictor"
)

func newInferCommand(ctx *commandContext) *cobra.Command {
	var (
		sourceDir       string
		runsDir         string
		batchSize       int
		workers         int
		noSkipUnchanged bool
		emitAll         bool
	)

	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Classify the sample archive into a fresh run index",
		Long: `Walk the archive, hash every audio file, score each one through the
external predictor, and stream the results into a new timestamped run
directory as an append-only index plus a run summary.

Per-file failures (unreadable or undecodable files) are recorded in the
index and never abort the run; the command exits non-zero only when the
run itself could not proceed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if strings.TrimSpace(sourceDir) != "" {
				expanded, err := config.ExpandPath(sourceDir)
				if err != nil {
					return fmt.Errorf("resolve source path: %w", err)
				}
				cfg.Paths.ArchiveRoot = expanded
			}
			if strings.TrimSpace(runsDir) != "" {
				expanded, err := config.ExpandPath(runsDir)
				if err != nil {
					return fmt.Errorf("resolve run dir: %w", err)
				}
				cfg.Paths.RunsDir = expanded
				if err := cfg.EnsureDirectories(); err != nil {
					return fmt.Errorf("prepare run dir: %w", err)
				}
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.Inference.BatchSize = batchSize
			}
			if cmd.Flags().Changed("workers") {
				cfg.Inference.Workers = workers
			}
			if noSkipUnchanged {
				cfg.Inference.SkipUnchanged = false
			}
			if emitAll {
				cfg.Routing.EmitAll = true
			}

			logger, err := ctx.buildLogger(cfg)
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			return runInfer(cmd, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&sourceDir, "source", "s", "", "Archive root to classify (default: configured archive_root)")
	cmd.Flags().StringVar(&runsDir, "run-dir", "", "Parent directory for the run (default: configured runs_dir)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Files per predictor batch")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent hash workers")
	cmd.Flags().BoolVar(&noSkipUnchanged, "no-skip-unchanged", false, "Re-hash every file even when size and mtime match the cache")
	cmd.Flags().BoolVar(&emitAll, "emit-all", false, "Keep model labels on below-threshold and out-of-target files")

	return cmd
}

func runInfer(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) error {
	if err := preflight.Err(preflight.RunInfer(cfg)); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := predictor.New(predictor.Config{
		Command:        cfg.Predictor.Command,
		StartupTimeout: time.Duration(cfg.Predictor.StartupTimeout) * time.Second,
		RequestTimeout: time.Duration(cfg.Predictor.RequestTimeout) * time.Second,
	}, predictor.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := client.Start(signalCtx); err != nil {
		return fmt.Errorf("start predictor: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("close predictor", logging.Error(err))
		}
	}()

	classes, source, err := labels.Resolve(cfg.Predictor.LabelsPath, cfg.Predictor.FallbackLabels, client.OutputDim())
	if err != nil {
		return err
	}
	logger.Info("predictor ready",
		logging.String("model", client.Model()),
		logging.Int("output_dim", client.OutputDim()),
		logging.String("labels_source", source))

	var collapse *labels.Collapse
	if cfg.Predictor.CanonicalMapPath != "" {
		collapse, err = labels.LoadCollapse(cfg.Predictor.CanonicalMapPath)
		if err != nil {
			return err
		}
		logger.Info("canonical collapse loaded", logging.Int("mappings", collapse.Len()))
	}

	overrideMap, err := overrides.Load(cfg.Paths.OverridesPath, logger)
	if err != nil {
		return err
	}

	cache := hashcache.NewCache(cfg.HashCachePath(), logger)
	progress, finishProgress := newProgressBar("classifying")

	engine, err := inference.New(inference.Deps{
		Config:    cfg,
		Logger:    logger,
		Extractor: client,
		Predictor: client,
		Classes:   classes,
		Collapse:  collapse,
		Overrides: overrideMap.Labels(),
		Cache:     cache,
		Progress:  progress,
	})
	if err != nil {
		return err
	}

	result, runErr := engine.Run(signalCtx)
	finishProgress()
	if result != nil {
		recordInferRun(cfg, logger, result, runErr)
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) && result != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Interrupted; partial index kept at %s\n", result.IndexPath)
		}
		return runErr
	}

	sum := result.Summary
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run complete: %s\n", result.RunID)
	fmt.Fprintf(out, "  Indexed:   %d of %d files\n", sum.FilesProcessed, sum.FilesDiscovered)
	if sum.FilesErrored > 0 {
		fmt.Fprintf(out, "  Errored:   %d (recorded in the index)\n", sum.FilesErrored)
	}
	if sum.FilesSkippedEmpty > 0 {
		fmt.Fprintf(out, "  Empty:     %d skipped\n", sum.FilesSkippedEmpty)
	}
	if sum.FilesSkippedDuplicate > 0 {
		fmt.Fprintf(out, "  Dupes:     %d skipped\n", sum.FilesSkippedDuplicate)
	}
	if sum.FilesReusedHash > 0 {
		fmt.Fprintf(out, "  Reused:    %d cached hashes\n", sum.FilesReusedHash)
	}
	if sum.FilesProcessed > 0 {
		fmt.Fprintf(out, "  Mean conf: %.3f\n", sum.MeanConfidence)
	}
	fmt.Fprintf(out, "  Elapsed:   %.1fs (%.1f files/sec)\n", sum.ElapsedSec, sum.FilesPerSec)
	fmt.Fprintf(out, "  Index:     %s\n", result.IndexPath)
	return nil
}

// recordInferRun archives the run in the catalog. Best effort: a
// catalog problem is worth a warning, never a failed run.
func recordInferRun(cfg *config.Config, logger *slog.Logger, result *inference.Result, runErr error) {
	catalog, err := runcatalog.Open(cfg.RunCatalogPath())
	if err != nil {
		logger.Warn("open run catalog", logging.Error(err))
		return
	}
	defer catalog.Close()

	status := runcatalog.StatusCompleted
	switch {
	case result.Summary.Interrupted:
		status = runcatalog.StatusInterrupted
	case runErr != nil:
		status = runcatalog.StatusFailed
	}
	run := runcatalog.Run{
		RunID:          result.RunID,
		Phase:          result.Summary.Phase,
		Status:         status,
		StartedAt:      result.Summary.StartedAt,
		FinishedAt:     result.Summary.FinishedAt,
		SourceRoot:     cfg.Paths.ArchiveRoot,
		RunDir:         result.RunDir,
		IndexPath:      result.IndexPath,
		FilesProcessed: result.Summary.FilesProcessed,
		FilesErrored:   result.Summary.FilesErrored,
		FilesSkipped:   result.Summary.FilesSkippedEmpty + result.Summary.FilesSkippedDuplicate,
		MeanConfidence: result.Summary.MeanConfidence,
	}
	if _, err := catalog.Record(context.Background(), run); err != nil {
		logger.Warn("record run in catalog", logging.Error(err))
	}
}
