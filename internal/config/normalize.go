package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizePredictor(); err != nil {
		return err
	}
	c.normalizeAudio()
	c.normalizeInference()
	c.normalizeRouting()
	c.normalizeRebuild()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.ArchiveRoot, err = expandPath(strings.TrimSpace(c.Paths.ArchiveRoot)); err != nil {
		return fmt.Errorf("paths.archive_root: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RunsDir) == "" {
		c.Paths.RunsDir = defaultRunsDir
	}
	if c.Paths.RunsDir, err = expandPath(c.Paths.RunsDir); err != nil {
		return fmt.Errorf("paths.runs_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir()
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.OverridesPath, err = expandPath(strings.TrimSpace(c.Paths.OverridesPath)); err != nil {
		return fmt.Errorf("paths.overrides_path: %w", err)
	}
	return nil
}

func (c *Config) normalizePredictor() error {
	command := make([]string, 0, len(c.Predictor.Command))
	for _, arg := range c.Predictor.Command {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			command = append(command, trimmed)
		}
	}
	c.Predictor.Command = command

	var err error
	if c.Predictor.ModelPath, err = expandPath(strings.TrimSpace(c.Predictor.ModelPath)); err != nil {
		return fmt.Errorf("predictor.model_path: %w", err)
	}
	if c.Predictor.LabelsPath, err = expandPath(strings.TrimSpace(c.Predictor.LabelsPath)); err != nil {
		return fmt.Errorf("predictor.labels_path: %w", err)
	}
	if c.Predictor.CanonicalMapPath, err = expandPath(strings.TrimSpace(c.Predictor.CanonicalMapPath)); err != nil {
		return fmt.Errorf("predictor.canonical_map_path: %w", err)
	}

	fallback := make([]string, 0, len(c.Predictor.FallbackLabels))
	for _, label := range c.Predictor.FallbackLabels {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			fallback = append(fallback, trimmed)
		}
	}
	c.Predictor.FallbackLabels = fallback

	if c.Predictor.TopK <= 0 {
		c.Predictor.TopK = defaultTopK
	}
	if c.Predictor.StartupTimeout <= 0 {
		c.Predictor.StartupTimeout = defaultStartupTimeout
	}
	if c.Predictor.RequestTimeout <= 0 {
		c.Predictor.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

func (c *Config) normalizeAudio() {
	if len(c.Audio.Extensions) == 0 {
		c.Audio.Extensions = defaultExtensions()
		return
	}
	exts := make([]string, 0, len(c.Audio.Extensions))
	seen := make(map[string]struct{}, len(c.Audio.Extensions))
	for _, ext := range c.Audio.Extensions {
		normalized := strings.ToLower(strings.TrimSpace(ext))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		exts = append(exts, normalized)
	}
	if len(exts) == 0 {
		exts = defaultExtensions()
	}
	c.Audio.Extensions = exts
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = defaultSampleRate
	}
}

func (c *Config) normalizeInference() {
	if c.Inference.BatchSize <= 0 {
		c.Inference.BatchSize = defaultBatchSize
	}
	if c.Inference.Workers <= 0 {
		c.Inference.Workers = defaultWorkers
	}
	if c.Inference.QueueSize <= 0 {
		c.Inference.QueueSize = defaultQueueSize
	}
	c.Inference.HashAlgorithm = strings.ToLower(strings.TrimSpace(c.Inference.HashAlgorithm))
	if c.Inference.HashAlgorithm == "" {
		c.Inference.HashAlgorithm = defaultHashAlgorithm
	}
	c.Inference.Dedup = strings.ToLower(strings.TrimSpace(c.Inference.Dedup))
	if c.Inference.Dedup == "" {
		c.Inference.Dedup = defaultDedup
	}
}

func (c *Config) normalizeRouting() {
	labels := make([]string, 0, len(c.Routing.TargetLabels))
	seen := make(map[string]struct{}, len(c.Routing.TargetLabels))
	for _, label := range c.Routing.TargetLabels {
		trimmed := strings.TrimSpace(label)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		labels = append(labels, trimmed)
	}
	c.Routing.TargetLabels = labels

	c.Routing.MiscLabel = strings.TrimSpace(c.Routing.MiscLabel)
	if c.Routing.MiscLabel == "" {
		c.Routing.MiscLabel = defaultMiscLabel
	}
}

func (c *Config) normalizeRebuild() {
	c.Rebuild.Mode = strings.ToLower(strings.TrimSpace(c.Rebuild.Mode))
	if c.Rebuild.Mode == "" {
		c.Rebuild.Mode = defaultRebuildMode
	}
	if c.Rebuild.MinFreeRatio < 0 {
		c.Rebuild.MinFreeRatio = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
