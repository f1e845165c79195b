package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for both phases.
type Paths struct {
	ArchiveRoot   string `toml:"archive_root" json:"archive_root"`
	OutputDir     string `toml:"output_dir" json:"output_dir"`
	RunsDir       string `toml:"runs_dir" json:"runs_dir"`
	CacheDir      string `toml:"cache_dir" json:"cache_dir"`
	LogDir        string `toml:"log_dir" json:"log_dir"`
	OverridesPath string `toml:"overrides_path" json:"overrides_path"`
}

// Predictor contains configuration for the external feature/prediction process.
type Predictor struct {
	Command          []string `toml:"command" json:"command"`
	ModelPath        string   `toml:"model_path" json:"model_path"`
	LabelsPath       string   `toml:"labels_path" json:"labels_path"`
	CanonicalMapPath string   `toml:"canonical_map_path" json:"canonical_map_path"`
	FallbackLabels   []string `toml:"fallback_labels" json:"fallback_labels"`
	TopK             int      `toml:"top_k" json:"top_k"`
	StartupTimeout   int      `toml:"startup_timeout" json:"startup_timeout"`
	RequestTimeout   int      `toml:"request_timeout" json:"request_timeout"`
}

// Audio contains parameters forwarded verbatim to the feature extractor.
type Audio struct {
	Extensions []string `toml:"extensions" json:"extensions"`
	SampleRate int      `toml:"sample_rate" json:"sample_rate"`
	Mono       bool     `toml:"mono" json:"mono"`
}

// Inference contains Phase-1 pipeline settings.
type Inference struct {
	BatchSize     int    `toml:"batch_size" json:"batch_size"`
	Workers       int    `toml:"workers" json:"workers"`
	HashAlgorithm string `toml:"hash_algorithm" json:"hash_algorithm"`
	Dedup         string `toml:"dedup" json:"dedup"`
	SkipUnchanged bool   `toml:"skip_unchanged" json:"skip_unchanged"`
	CompressIndex bool   `toml:"compress_index" json:"compress_index"`
	QueueSize     int    `toml:"queue_size" json:"queue_size"`
}

// Routing contains label routing settings shared by both phases.
type Routing struct {
	MiscThreshold float64  `toml:"misc_threshold" json:"misc_threshold"`
	TargetLabels  []string `toml:"target_labels" json:"target_labels"`
	EmitAll       bool     `toml:"emit_all" json:"emit_all"`
	MiscLabel     string   `toml:"misc_label" json:"misc_label"`
}

// Rebuild contains Phase-2 materialization settings.
type Rebuild struct {
	Mode         string  `toml:"mode" json:"mode"`
	Clean        bool    `toml:"clean" json:"clean"`
	MinFreeRatio float64 `toml:"min_free_ratio" json:"min_free_ratio"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format" json:"format"`
	Level         string `toml:"level" json:"level"`
	RetentionDays int    `toml:"retention_days" json:"retention_days"`
}

// Config encapsulates all configuration values for cratedig.
//
// Configuration sections by subsystem:
//   - Paths: archive root, output root, run/cache/log directories, overrides
//   - Predictor: external extractor/predictor process and model references
//   - Audio: decode parameters passed through to the extractor
//   - Inference: batching, worker counts, hashing, dedup, index compression
//   - Routing: misc threshold, target label subset, canonical collapse misc label
//   - Rebuild: placement mode, clean-vs-append, free-space floor
//   - Logging: log format, level, and retention
type Config struct {
	Paths     Paths     `toml:"paths" json:"paths"`
	Predictor Predictor `toml:"predictor" json:"predictor"`
	Audio     Audio     `toml:"audio" json:"audio"`
	Inference Inference `toml:"inference" json:"inference"`
	Routing   Routing   `toml:"routing" json:"routing"`
	Rebuild   Rebuild   `toml:"rebuild" json:"rebuild"`
	Logging   Logging   `toml:"logging" json:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cratedig/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. Unknown keys are rejected so a
// typo never silently falls back to a default.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: unknown keys:\n%s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv("CRATEDIG_CONFIG"))
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cratedig.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a run needs before it starts.
// OutputDir is created on a best-effort basis so config load keeps working
// when the rebuild target lives on storage that is temporarily offline.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RunsDir, c.Paths.CacheDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.OutputDir) != "" {
		_ = os.MkdirAll(c.Paths.OutputDir, 0o755)
	}
	return nil
}

// IndexFileName returns the index file name for new runs, honoring compression.
func (c *Config) IndexFileName() string {
	if c.Inference.CompressIndex {
		return "index.jsonl.gz"
	}
	return "index.jsonl"
}

// HashCachePath returns the location of the persisted hash cache.
func (c *Config) HashCachePath() string {
	return filepath.Join(c.Paths.CacheDir, "hashcache.json")
}

// RunCatalogPath returns the location of the sqlite run catalog.
func (c *Config) RunCatalogPath() string {
	return filepath.Join(c.Paths.CacheDir, "runs.db")
}

// InferLockPath returns the lock file that serializes concurrent infer runs.
func (c *Config) InferLockPath() string {
	return filepath.Join(c.Paths.CacheDir, "infer.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "cratedig")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/cratedig"
	}
	return filepath.Join(home, ".cache", "cratedig")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
