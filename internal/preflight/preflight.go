package preflight

import (
	"fmt"
	"strings"

	"cratedig/internal/config"
	"cratedig/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunInfer executes the checks a classification run depends on.
// Optional file checks run only when the corresponding path is
// configured.
func RunInfer(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckSourceReadable("Archive root", cfg.Paths.ArchiveRoot),
		CheckDirectoryAccess("Runs directory", cfg.Paths.RunsDir),
		CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckCommand("Predictor command", cfg.Predictor.Command),
	}

	if cfg.Predictor.ModelPath != "" {
		results = append(results, CheckFileReadable("Model file", cfg.Predictor.ModelPath))
	}
	if cfg.Predictor.LabelsPath != "" {
		results = append(results, CheckFileReadable("Label mapping", cfg.Predictor.LabelsPath))
	}
	if cfg.Predictor.CanonicalMapPath != "" {
		results = append(results, CheckFileReadable("Canonical map", cfg.Predictor.CanonicalMapPath))
	}
	if cfg.Paths.OverridesPath != "" {
		results = append(results, CheckFileReadable("Overrides file", cfg.Paths.OverridesPath))
	}

	return results
}

// RunRebuild executes the checks a rebuild depends on.
func RunRebuild(cfg *config.Config, indexPath string) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckFileReadable("Run index", indexPath),
		CheckCreatableDir("Output root", cfg.Paths.OutputDir),
	}
	if cfg.Paths.OverridesPath != "" {
		results = append(results, CheckFileReadable("Overrides file", cfg.Paths.OverridesPath))
	}
	return results
}

// Err folds failed results into one configuration error, or nil when
// every check passed.
func Err(results []Result) error {
	var failures []string
	for _, r := range results {
		if !r.Passed {
			failures = append(failures, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "checks",
		strings.Join(failures, "; "), nil)
}
