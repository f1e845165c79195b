package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"cratedig/internal/config"
)

func TestLoadDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_CACHE_HOME", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantRuns := filepath.Join(tempHome, ".local", "share", "cratedig", "runs")
	if cfg.Paths.RunsDir != wantRuns {
		t.Fatalf("unexpected runs dir: got %q want %q", cfg.Paths.RunsDir, wantRuns)
	}
	if cfg.Paths.CacheDir != filepath.Join(tempHome, ".cache", "cratedig") {
		t.Fatalf("unexpected cache dir: %q", cfg.Paths.CacheDir)
	}
	if cfg.Inference.BatchSize != 32 {
		t.Fatalf("unexpected batch size: %d", cfg.Inference.BatchSize)
	}
	if cfg.Inference.HashAlgorithm != "xxh64" {
		t.Fatalf("unexpected hash algorithm: %q", cfg.Inference.HashAlgorithm)
	}
	if cfg.Inference.Dedup != "tag" {
		t.Fatalf("unexpected dedup mode: %q", cfg.Inference.Dedup)
	}
	if !cfg.Inference.SkipUnchanged {
		t.Fatal("expected skip_unchanged enabled by default")
	}
	if cfg.Routing.MiscThreshold != 0.50 {
		t.Fatalf("unexpected misc threshold: %v", cfg.Routing.MiscThreshold)
	}
	if cfg.Routing.MiscLabel != "misc" {
		t.Fatalf("unexpected misc label: %q", cfg.Routing.MiscLabel)
	}
	if cfg.Rebuild.Mode != "copy" {
		t.Fatalf("unexpected rebuild mode: %q", cfg.Rebuild.Mode)
	}
	if cfg.IndexFileName() != "index.jsonl" {
		t.Fatalf("unexpected index file name: %q", cfg.IndexFileName())
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.RunsDir, cfg.Paths.CacheDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "cratedig.toml")

	type payload struct {
		Paths struct {
			ArchiveRoot string `toml:"archive_root"`
		} `toml:"paths"`
		Inference struct {
			BatchSize     int    `toml:"batch_size"`
			HashAlgorithm string `toml:"hash_algorithm"`
		} `toml:"inference"`
		Routing struct {
			MiscThreshold float64  `toml:"misc_threshold"`
			TargetLabels  []string `toml:"target_labels"`
		} `toml:"routing"`
	}
	custom := payload{}
	custom.Paths.ArchiveRoot = filepath.Join(tempDir, "archive")
	custom.Inference.BatchSize = 16
	custom.Inference.HashAlgorithm = "SHA256"
	custom.Routing.MiscThreshold = 0.65
	custom.Routing.TargetLabels = []string{"Kick", " Snare ", "Kick", ""}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Inference.BatchSize != 16 {
		t.Fatalf("expected batch size 16, got %d", cfg.Inference.BatchSize)
	}
	if cfg.Inference.HashAlgorithm != "sha256" {
		t.Fatalf("expected lowercased hash algorithm, got %q", cfg.Inference.HashAlgorithm)
	}
	if cfg.Routing.MiscThreshold != 0.65 {
		t.Fatalf("expected threshold 0.65, got %v", cfg.Routing.MiscThreshold)
	}
	want := []string{"Kick", "Snare"}
	if len(cfg.Routing.TargetLabels) != len(want) {
		t.Fatalf("expected deduped target labels %v, got %v", want, cfg.Routing.TargetLabels)
	}
	for i, label := range want {
		if cfg.Routing.TargetLabels[i] != label {
			t.Fatalf("expected target label %q at %d, got %v", label, i, cfg.Routing.TargetLabels)
		}
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "cratedig.toml")
	content := "[inference]\nbatchsize = 16\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, _, err := config.Load(configPath)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("expected unknown-key error, got %v", err)
	}
}

func TestEnvVarSelectsConfigPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "env.toml")
	if err := os.WriteFile(configPath, []byte("[inference]\nbatch_size = 8\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CRATEDIG_CONFIG", configPath)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected env config path %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Inference.BatchSize != 8 {
		t.Fatalf("expected batch size 8, got %d", cfg.Inference.BatchSize)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "[routing]") {
		t.Fatalf("sample config missing routing section: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Routing.MiscThreshold != 0.5 {
		t.Fatalf("expected sample threshold 0.5, got %v", cfg.Routing.MiscThreshold)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Routing.MiscThreshold = 1.2
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range threshold")
	}

	cfg = config.Default()
	cfg.Inference.HashAlgorithm = "crc32"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown hash algorithm")
	}

	cfg = config.Default()
	cfg.Inference.Dedup = "maybe"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown dedup mode")
	}

	cfg = config.Default()
	cfg.Rebuild.Mode = "move"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown rebuild mode")
	}

	cfg = config.Default()
	cfg.Audio.Extensions = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty extensions")
	}

	cfg = config.Default()
	cfg.Predictor.TopK = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive top_k")
	}
}

func TestCompressedIndexFileName(t *testing.T) {
	cfg := config.Default()
	cfg.Inference.CompressIndex = true
	if cfg.IndexFileName() != "index.jsonl.gz" {
		t.Fatalf("unexpected compressed index name: %q", cfg.IndexFileName())
	}
}
