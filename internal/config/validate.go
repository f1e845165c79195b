package config

import (
	"errors"
	"fmt"
)

// Valid enum values for the configuration options that take one.
var (
	validHashAlgorithms = map[string]struct{}{"xxh64": {}, "sha256": {}, "md5": {}}
	validDedupModes     = map[string]struct{}{"tag": {}, "skip": {}, "off": {}}
	validRebuildModes   = map[string]struct{}{"copy": {}, "symlink": {}, "hardlink": {}}
)

// Validate ensures the configuration is usable. Paths that only one command
// needs (archive root, output dir, predictor command) are checked by that
// command's preflight, not here, so read-only commands work from a minimal
// config.
func (c *Config) Validate() error {
	if err := c.validatePredictor(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateInference(); err != nil {
		return err
	}
	if err := c.validateRouting(); err != nil {
		return err
	}
	if err := c.validateRebuild(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePredictor() error {
	if err := ensurePositiveMap(map[string]int{
		"predictor.top_k":           c.Predictor.TopK,
		"predictor.startup_timeout": c.Predictor.StartupTimeout,
		"predictor.request_timeout": c.Predictor.RequestTimeout,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAudio() error {
	if len(c.Audio.Extensions) == 0 {
		return errors.New("audio.extensions must include at least one extension")
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	return nil
}

func (c *Config) validateInference() error {
	if err := ensurePositiveMap(map[string]int{
		"inference.batch_size": c.Inference.BatchSize,
		"inference.workers":    c.Inference.Workers,
		"inference.queue_size": c.Inference.QueueSize,
	}); err != nil {
		return err
	}
	if _, ok := validHashAlgorithms[c.Inference.HashAlgorithm]; !ok {
		return fmt.Errorf("inference.hash_algorithm must be one of xxh64, sha256, md5 (got %q)", c.Inference.HashAlgorithm)
	}
	if _, ok := validDedupModes[c.Inference.Dedup]; !ok {
		return fmt.Errorf("inference.dedup must be one of tag, skip, off (got %q)", c.Inference.Dedup)
	}
	return nil
}

func (c *Config) validateRouting() error {
	if c.Routing.MiscThreshold < 0 || c.Routing.MiscThreshold > 1 {
		return errors.New("routing.misc_threshold must be between 0 and 1")
	}
	if c.Routing.MiscLabel == "" {
		return errors.New("routing.misc_label must be set")
	}
	return nil
}

func (c *Config) validateRebuild() error {
	if _, ok := validRebuildModes[c.Rebuild.Mode]; !ok {
		return fmt.Errorf("rebuild.mode must be one of copy, symlink, hardlink (got %q)", c.Rebuild.Mode)
	}
	if c.Rebuild.MinFreeRatio < 0 || c.Rebuild.MinFreeRatio > 0.9 {
		return errors.New("rebuild.min_free_ratio must be between 0 and 0.9")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
