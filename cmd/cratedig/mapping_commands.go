package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cratedig/internal/config"
	"cratedig/internal/labels"
	"cratedig/internal/logging"
	"cratedig/internal/services"
	"cratedig/internal/services/predictor"
)

func newValidateMappingCommand(ctx *commandContext) *cobra.Command {
	var mappingPath string

	cmd := &cobra.Command{
		Use:   "validate-mapping",
		Short: "Check the label mapping against the live model",
		Long: `Start the predictor, ask it for its output dimension, and verify that
the label mapping file has exactly that many class names. A mismatch
exits non-zero with both numbers so the index never silently carries
misaligned labels.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			path := strings.TrimSpace(mappingPath)
			if path == "" {
				path = cfg.Predictor.LabelsPath
			} else if path, err = config.ExpandPath(path); err != nil {
				return fmt.Errorf("resolve mapping path: %w", err)
			}
			if path == "" {
				return services.Wrap(services.ErrConfiguration, "cli", "validate mapping",
					"no mapping file: pass --mapping or configure predictor.labels_path", nil)
			}

			logger, err := ctx.buildLogger(cfg)
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			client, err := startPredictor(cmd, cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			classes, err := labels.LoadMapping(path)
			if err != nil {
				return err
			}
			if len(classes) != client.OutputDim() {
				return services.Wrap(services.ErrValidation, "cli", "validate mapping",
					fmt.Sprintf("%s has %d classes but model %q emits %d", path, len(classes), client.Model(), client.OutputDim()), nil)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Mapping OK: %s\n", path)
			fmt.Fprintf(out, "  Model:   %s\n", client.Model())
			fmt.Fprintf(out, "  Classes: %d\n", len(classes))
			return nil
		},
	}

	cmd.Flags().StringVar(&mappingPath, "mapping", "", "Label mapping file (default: configured predictor.labels_path)")

	return cmd
}

func newCreateStubCommand(ctx *commandContext) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "create-stub",
		Short: "Write a placeholder label mapping sized to the live model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			target, err := config.ExpandPath(outPath)
			if err != nil {
				return fmt.Errorf("resolve output path: %w", err)
			}

			logger, err := ctx.buildLogger(cfg)
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			client, err := startPredictor(cmd, cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := labels.WriteStub(target, client.OutputDim()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote stub mapping with %d classes to %s\n", client.OutputDim(), target)
			fmt.Fprintln(out, "Replace each placeholder with the real class name, then point predictor.labels_path at it.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Destination for the stub mapping (required)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

// startPredictor launches the configured predictor far enough to learn
// its identity. Callers must Close the returned client.
func startPredictor(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) (*predictor.Client, error) {
	client, err := predictor.New(predictor.Config{
		Command:        cfg.Predictor.Command,
		StartupTimeout: time.Duration(cfg.Predictor.StartupTimeout) * time.Second,
		RequestTimeout: time.Duration(cfg.Predictor.RequestTimeout) * time.Second,
	}, predictor.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := client.Start(cmd.Context()); err != nil {
		return nil, fmt.Errorf("start predictor: %w", err)
	}
	logger.Debug("predictor started",
		logging.String("model", client.Model()),
		logging.Int("output_dim", client.OutputDim()))
	return client, nil
}
