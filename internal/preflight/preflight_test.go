package preflight

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cratedig/internal/config"
	"cratedig/internal/services"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckSourceReadable_OK(t *testing.T) {
	result := CheckSourceReadable("archive", t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckSourceReadable_NotExist(t *testing.T) {
	result := CheckSourceReadable("archive", filepath.Join(t.TempDir(), "gone"))
	if result.Passed {
		t.Fatal("expected failure for missing archive")
	}
}

func TestCheckFileReadable_OK(t *testing.T) {
	f := filepath.Join(t.TempDir(), "model.onnx")
	if err := os.WriteFile(f, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckFileReadable("model", f)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckFileReadable_Directory(t *testing.T) {
	result := CheckFileReadable("model", t.TempDir())
	if result.Passed {
		t.Fatal("expected failure for directory path")
	}
}

func TestCheckCreatableDir_Existing(t *testing.T) {
	result := CheckCreatableDir("output", t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for existing dir, got: %s", result.Detail)
	}
}

func TestCheckCreatableDir_MissingWithWritableAncestor(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b", "sorted")
	result := CheckCreatableDir("output", target)
	if !result.Passed {
		t.Fatalf("expected pass for creatable dir, got: %s", result.Detail)
	}
	if !strings.Contains(result.Detail, "will be created") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckCreatableDir_AncestorIsFile(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckCreatableDir("output", filepath.Join(blocker, "sorted"))
	if result.Passed {
		t.Fatal("expected failure when an ancestor is a regular file")
	}
}

func TestCheckCommand_AbsolutePath(t *testing.T) {
	script := filepath.Join(t.TempDir(), "predictor")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	result := CheckCommand("predictor", []string{script, "--serve"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckCommand_PathLookup(t *testing.T) {
	binDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(binDir, "classify"), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", binDir)

	result := CheckCommand("predictor", []string{"classify"})
	if !result.Passed {
		t.Fatalf("expected PATH lookup to pass, got: %s", result.Detail)
	}
	if result.Detail != filepath.Join(binDir, "classify") {
		t.Fatalf("expected resolved path, got: %s", result.Detail)
	}
}

func TestCheckCommand_Missing(t *testing.T) {
	result := CheckCommand("predictor", []string{filepath.Join(t.TempDir(), "absent")})
	if result.Passed {
		t.Fatal("expected failure for missing binary")
	}
}

func TestCheckCommand_NotConfigured(t *testing.T) {
	result := CheckCommand("predictor", nil)
	if result.Passed {
		t.Fatal("expected failure for empty command")
	}
	if result.Detail != "command not configured" {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestRunInfer_NilConfig(t *testing.T) {
	if results := RunInfer(nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunInfer_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.ArchiveRoot = t.TempDir()
	cfg.Paths.RunsDir = t.TempDir()
	cfg.Paths.CacheDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()

	script := filepath.Join(t.TempDir(), "predictor")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg.Predictor.Command = []string{script}

	results := RunInfer(&cfg)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestRunInfer_OptionalFiles(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.ArchiveRoot = t.TempDir()
	cfg.Paths.RunsDir = t.TempDir()
	cfg.Paths.CacheDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Predictor.Command = []string{"/bin/sh"}
	cfg.Predictor.LabelsPath = filepath.Join(t.TempDir(), "labels.json")

	results := RunInfer(&cfg)
	if len(results) != 6 {
		t.Fatalf("expected 6 results with labels configured, got %d", len(results))
	}
	last := results[len(results)-1]
	if last.Passed {
		t.Fatalf("expected missing mapping to fail: %+v", last)
	}
}

func TestRunRebuild_OK(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.OutputDir = filepath.Join(t.TempDir(), "sorted")

	indexPath := filepath.Join(t.TempDir(), "index.jsonl")
	if err := os.WriteFile(indexPath, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	results := RunRebuild(&cfg, indexPath)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestRunRebuild_MissingIndex(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.OutputDir = t.TempDir()

	results := RunRebuild(&cfg, filepath.Join(t.TempDir(), "absent.jsonl"))
	if results[0].Passed {
		t.Fatal("expected missing index to fail")
	}
}

func TestErr_AllPassed(t *testing.T) {
	results := []Result{
		{Name: "a", Passed: true},
		{Name: "b", Passed: true},
	}
	if err := Err(results); err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
}

func TestErr_FoldsFailures(t *testing.T) {
	results := []Result{
		{Name: "Archive root", Passed: false, Detail: "/a (error: does not exist)"},
		{Name: "Runs directory", Passed: true, Detail: "/runs"},
		{Name: "Predictor command", Passed: false, Detail: "command not configured"},
	}
	err := Err(results)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got: %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "Archive root") || !strings.Contains(msg, "Predictor command") {
		t.Fatalf("error should list every failure: %s", msg)
	}
	if strings.Contains(msg, "Runs directory") {
		t.Fatalf("error should not list passing checks: %s", msg)
	}
}
