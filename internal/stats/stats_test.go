package stats_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"cratedig/internal/index"
	"cratedig/internal/routing"
	"cratedig/internal/services"
	"cratedig/internal/stats"
)

func writeIndex(t *testing.T, entries []index.Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.jsonl")
	writer, err := index.NewWriter(path, false, 8)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, e := range entries {
		if err := writer.Append(context.Background(), e); err != nil {
			t.Fatalf("append %s: %v", e.RelativePath, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return path
}

func routedEntry(rel, label string, conf float64, size int64, dur float64) index.Entry {
	return index.Entry{
		RelativePath:   rel,
		AbsPath:        "/archive/" + rel,
		Hash:           rel,
		Size:           size,
		DurationSec:    dur,
		LabelTop1:      label,
		ConfTop1:       conf,
		AssignedLabel:  label,
		AssignedReason: routing.ReasonTop1,
	}
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputeAggregates(t *testing.T) {
	shaker := routedEntry("perc/shaker.wav", "misc", 0.35, 50, 1.0)
	shaker.AssignedReason = routing.ReasonBelowThreshold
	shaker.MiscRouted = true
	shaker.BelowThreshold = true
	shaker.LabelTop1 = "Shaker"

	dupe := routedEntry("b/kick.wav", "misc", 0.85, 100, 1.5)
	dupe.AssignedReason = routing.ReasonDuplicate
	dupe.MiscRouted = true
	dupe.Duplicate = true
	dupe.LabelTop1 = "Kick"

	broken := index.Entry{RelativePath: "broken/clip.wav", AbsPath: "/archive/broken/clip.wav", Hash: "x", Size: 10}
	broken.SetError("extract: decode failure")

	path := writeIndex(t, []index.Entry{
		routedEntry("kicks/kick_01.wav", "Kick", 0.90, 100, 1.5),
		routedEntry("kicks/kick_02.wav", "Kick", 0.75, 200, 2.5),
		routedEntry("snares/snare_01.wav", "Snare", 0.95, 300, 3.0),
		routedEntry("crash/crash_01.wav", "Crash", 1.0, 80, 0.5),
		shaker,
		dupe,
		broken,
	})

	report, err := stats.Compute(path, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if report.TotalEntries != 7 || report.Processed != 6 || report.Errored != 1 {
		t.Errorf("counts = total %d processed %d errored %d",
			report.TotalEntries, report.Processed, report.Errored)
	}
	if report.TotalBytes != 840 {
		t.Errorf("total bytes = %d", report.TotalBytes)
	}
	if !closeTo(report.TotalDurationSec, 10.0) {
		t.Errorf("total duration = %v", report.TotalDurationSec)
	}
	if !closeTo(report.MeanConfidence, 0.8) {
		t.Errorf("mean confidence = %v", report.MeanConfidence)
	}
	if report.Duplicates != 1 || report.MiscRouted != 2 || report.BelowThreshold != 1 || report.OutOfTarget != 0 {
		t.Errorf("routing counts = dup %d misc %d below %d oot %d",
			report.Duplicates, report.MiscRouted, report.BelowThreshold, report.OutOfTarget)
	}
	if report.Reasons[routing.ReasonTop1] != 4 ||
		report.Reasons[routing.ReasonBelowThreshold] != 1 ||
		report.Reasons[routing.ReasonDuplicate] != 1 {
		t.Errorf("reasons = %v", report.Reasons)
	}
	if report.ErrorBreakdown["extract"] != 1 || len(report.ErrorBreakdown) != 1 {
		t.Errorf("error breakdown = %v", report.ErrorBreakdown)
	}

	wantHist := make([]int, stats.HistogramBuckets)
	wantHist[3] = 1
	wantHist[7] = 1
	wantHist[8] = 1
	wantHist[9] = 3
	for i := range wantHist {
		if report.Histogram[i] != wantHist[i] {
			t.Errorf("histogram = %v, want %v", report.Histogram, wantHist)
			break
		}
	}

	wantOrder := []string{"Kick", "misc", "Crash", "Snare"}
	if len(report.Labels) != len(wantOrder) {
		t.Fatalf("labels = %+v", report.Labels)
	}
	for i, label := range wantOrder {
		if report.Labels[i].Label != label {
			t.Fatalf("label order = %v, want %v at %d", report.Labels[i].Label, label, i)
		}
	}

	kick := report.Labels[0]
	if kick.Count != 2 || !closeTo(kick.MinConf, 0.75) || !closeTo(kick.MeanConf, 0.825) || !closeTo(kick.MaxConf, 0.90) {
		t.Errorf("kick stats = %+v", kick)
	}
	if kick.Bytes != 300 || !closeTo(kick.DurationSec, 4.0) {
		t.Errorf("kick totals = %+v", kick)
	}
	misc := report.Labels[1]
	if misc.Count != 2 || !closeTo(misc.MinConf, 0.35) || !closeTo(misc.MeanConf, 0.6) || !closeTo(misc.MaxConf, 0.85) {
		t.Errorf("misc stats = %+v", misc)
	}
	if report.Truncated {
		t.Error("complete index reported truncated")
	}
}

func TestComputeTruncatedTail(t *testing.T) {
	path := writeIndex(t, []index.Entry{
		routedEntry("kicks/kick_01.wav", "Kick", 0.90, 100, 1.5),
		routedEntry("snares/snare_01.wav", "Snare", 0.95, 300, 3.0),
	})
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString(`{"relative_path":"cut`); err != nil {
		t.Fatalf("append partial line: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	report, err := stats.Compute(path, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !report.Truncated {
		t.Error("truncated tail not reported")
	}
	if report.TotalEntries != 2 || report.Processed != 2 {
		t.Errorf("counts = total %d processed %d", report.TotalEntries, report.Processed)
	}
}

func TestComputeEmptyIndex(t *testing.T) {
	path := writeIndex(t, nil)

	report, err := stats.Compute(path, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if report.TotalEntries != 0 || report.MeanConfidence != 0 || len(report.Labels) != 0 {
		t.Errorf("empty report = %+v", report)
	}
}

func TestComputeMissingIndex(t *testing.T) {
	_, err := stats.Compute(filepath.Join(t.TempDir(), "absent.jsonl"), nil)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
