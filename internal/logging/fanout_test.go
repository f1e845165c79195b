package logging_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cratedig/internal/logging"
)

func newFileLogger(t *testing.T, path, level string) *slog.Logger {
	t.Helper()
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       level,
		OutputPaths: []string{path},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return logger
}

func TestFanoutWritesEveryChild(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.log")
	pathB := filepath.Join(dir, "b.log")

	a := newFileLogger(t, pathA, "info")
	b := newFileLogger(t, pathB, "info")

	combined := slog.New(logging.Fanout(a.Handler(), b.Handler()))
	combined.Info("both sides", logging.String("k", "v"))

	for _, path := range []string{pathA, pathB} {
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if !strings.Contains(string(content), "both sides") {
			t.Fatalf("expected record in %s, got %q", path, content)
		}
	}
}

func TestFanoutSkipsNilAndFlattensNested(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.log")
	pathB := filepath.Join(dir, "b.log")

	a := newFileLogger(t, pathA, "info")
	b := newFileLogger(t, pathB, "info")

	inner := logging.Fanout(nil, a.Handler())
	combined := slog.New(logging.Fanout(inner, b.Handler()))
	combined.Info("flattened")

	for _, path := range []string{pathA, pathB} {
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if !strings.Contains(string(content), "flattened") {
			t.Fatalf("expected record in %s, got %q", path, content)
		}
	}
}

func TestFanoutRespectsChildLevels(t *testing.T) {
	dir := t.TempDir()
	pathQuiet := filepath.Join(dir, "quiet.log")
	pathVerbose := filepath.Join(dir, "verbose.log")

	quiet := newFileLogger(t, pathQuiet, "info")
	verbose := newFileLogger(t, pathVerbose, "debug")

	combined := slog.New(logging.Fanout(quiet.Handler(), verbose.Handler()))
	if !combined.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected fanout enabled when any child accepts the level")
	}
	combined.Debug("details")

	quietContent, err := os.ReadFile(pathQuiet)
	if err != nil {
		t.Fatalf("read quiet log: %v", err)
	}
	if strings.Contains(string(quietContent), "details") {
		t.Fatalf("info-level child should drop debug records, got %q", quietContent)
	}
	verboseContent, err := os.ReadFile(pathVerbose)
	if err != nil {
		t.Fatalf("read verbose log: %v", err)
	}
	if !strings.Contains(string(verboseContent), "details") {
		t.Fatalf("debug-level child should keep debug records, got %q", verboseContent)
	}
}

func TestFanoutWithAttrsReachesChildren(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attrs.log")
	base := newFileLogger(t, path, "info")

	combined := slog.New(logging.Fanout(base.Handler(), logging.NewNop().Handler()))
	combined.With(logging.String("run_id", "run-42")).Info("tagged")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(content), "run_id=run-42") {
		t.Fatalf("expected inherited attr in %q", content)
	}
}
