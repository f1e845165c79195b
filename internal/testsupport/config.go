package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"cratedig/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The archive root is created so source preflight checks pass; the other
// directories are left to EnsureDirectories or the code under test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ArchiveRoot = filepath.Join(base, "archive")
	cfgVal.Paths.OutputDir = filepath.Join(base, "sorted")
	cfgVal.Paths.RunsDir = filepath.Join(base, "runs")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Predictor.Command = []string{"/bin/false"}
	cfgVal.Predictor.FallbackLabels = []string{"kick", "snare", "hat", "perc"}

	if err := os.MkdirAll(cfgVal.Paths.ArchiveRoot, 0o755); err != nil {
		t.Fatalf("mkdir archive root: %v", err)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithPredictorCommand sets the predictor command line on the test config.
func WithPredictorCommand(command ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Predictor.Command = command
	}
}

// WithStubPredictor writes a JSON-lines predictor stub reporting the given
// class count and wires it in as the config's predictor command.
func WithStubPredictor(outputDim int) ConfigOption {
	return func(b *configBuilder) {
		script := StubPredictorScript(b.t, filepath.Join(b.baseDir, "bin"), outputDim)
		b.cfg.Predictor.Command = []string{script}
	}
}

// WithFallbackLabels overrides the ordered label list used when no mapping
// file is configured.
func WithFallbackLabels(labels ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Predictor.FallbackLabels = labels
	}
}

// WithTargetLabels restricts routing to the given label subset.
func WithTargetLabels(labels ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Routing.TargetLabels = labels
	}
}

// WriteConfig marshals the config into a TOML file under its base dir and
// returns the path, for tests that drive commands through --config.
func WriteConfig(t testing.TB, cfg *config.Config) string {
	t.Helper()

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.RunsDir)
}
