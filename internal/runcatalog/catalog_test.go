package runcatalog_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"cratedig/internal/index"
	"cratedig/internal/runcatalog"
)

func openCatalog(t *testing.T) *runcatalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "runs.db")
	cat, err := runcatalog.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := cat.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return cat
}

func TestOpenCreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")

	first, err := runcatalog.Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := runcatalog.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if second.Path() != path {
		t.Errorf("Path = %q, want %q", second.Path(), path)
	}
	if err := second.Close(); err != nil {
		t.Fatalf("close reopened: %v", err)
	}
}

func TestRecordAssignsRowID(t *testing.T) {
	cat := openCatalog(t)

	id, err := cat.Record(context.Background(), runcatalog.Run{
		RunID:     "run_20260823_100000",
		Phase:     index.PhaseInfer,
		StartedAt: time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("row id %q is not a uuid: %v", id, err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	cat := openCatalog(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

	runs := []runcatalog.Run{
		{
			RunID:          "run_20260823_100000",
			Phase:          index.PhaseInfer,
			Status:         runcatalog.StatusCompleted,
			StartedAt:      base,
			FinishedAt:     base.Add(90 * time.Second),
			SourceRoot:     "/archive",
			RunDir:         "/runs/run_20260823_100000",
			IndexPath:      "/runs/run_20260823_100000/index.jsonl",
			FilesProcessed: 120,
			FilesErrored:   2,
			MeanConfidence: 0.82,
		},
		{
			RunID:        "rebuild_20260823_100100",
			Phase:        index.PhaseRebuild,
			Status:       runcatalog.StatusFailed,
			StartedAt:    base.Add(1 * time.Minute),
			OutputRoot:   "/sorted",
			FilesErrored: 1,
		},
		{
			RunID:          "run_20260823_100200",
			Phase:          index.PhaseInfer,
			Status:         runcatalog.StatusInterrupted,
			StartedAt:      base.Add(2 * time.Minute),
			SourceRoot:     "/archive",
			FilesProcessed: 7,
			FilesSkipped:   3,
		},
	}
	for _, run := range runs {
		if _, err := cat.Record(ctx, run); err != nil {
			t.Fatalf("Record %s: %v", run.RunID, err)
		}
	}

	recent, err := cat.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d runs", len(recent))
	}
	if recent[0].RunID != "run_20260823_100200" || recent[1].RunID != "rebuild_20260823_100100" {
		t.Errorf("order = %s, %s", recent[0].RunID, recent[1].RunID)
	}
	if recent[0].Status != runcatalog.StatusInterrupted || recent[0].FilesSkipped != 3 {
		t.Errorf("newest run = %+v", recent[0])
	}
	if !recent[1].FinishedAt.IsZero() {
		t.Errorf("null finished_at round-tripped as %v", recent[1].FinishedAt)
	}

	all, err := cat.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent default limit: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("default limit returned %d runs", len(all))
	}
}

func TestGetByRunID(t *testing.T) {
	cat := openCatalog(t)
	ctx := context.Background()
	started := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

	want := runcatalog.Run{
		RunID:          "run_20260823_100000",
		Phase:          index.PhaseInfer,
		Status:         runcatalog.StatusCompleted,
		StartedAt:      started,
		FinishedAt:     started.Add(45 * time.Second),
		SourceRoot:     "/archive",
		RunDir:         "/runs/run_20260823_100000",
		IndexPath:      "/runs/run_20260823_100000/index.jsonl",
		FilesProcessed: 42,
		MeanConfidence: 0.91,
	}
	if _, err := cat.Record(ctx, want); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := cat.Get(ctx, want.RunID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for a recorded run")
	}
	if got.Phase != want.Phase || got.Status != want.Status || got.FilesProcessed != want.FilesProcessed {
		t.Errorf("Get = %+v", got)
	}
	if !got.StartedAt.Equal(want.StartedAt) || !got.FinishedAt.Equal(want.FinishedAt) {
		t.Errorf("timestamps = %v, %v", got.StartedAt, got.FinishedAt)
	}
	if got.IndexPath != want.IndexPath || got.SourceRoot != want.SourceRoot {
		t.Errorf("paths = %+v", got)
	}
}

func TestGetMissingRun(t *testing.T) {
	cat := openCatalog(t)

	got, err := cat.Get(context.Background(), "run_never_recorded")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil", got)
	}
}
