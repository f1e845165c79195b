package index

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cratedig/internal/fileutil"
)

// Run phases recorded in summaries and the run catalog.
const (
	PhaseInfer   = "infer"
	PhaseRebuild = "rebuild"
)

// SummaryFileName is the summary's name inside a run directory.
const SummaryFileName = "summary.json"

// RunSummary is the terminal record of a run, written even when the
// run was interrupted so operators can always see how far it got.
type RunSummary struct {
	RunID                 string         `json:"run_id"`
	Phase                 string         `json:"phase"`
	StartedAt             time.Time      `json:"started_at"`
	FinishedAt            time.Time      `json:"finished_at"`
	ElapsedSec            float64        `json:"elapsed_sec"`
	FilesDiscovered       int            `json:"files_discovered"`
	FilesProcessed        int            `json:"files_processed"`
	FilesSkippedEmpty     int            `json:"files_skipped_empty"`
	FilesSkippedDuplicate int            `json:"files_skipped_duplicate"`
	FilesErrored          int            `json:"files_errored"`
	FilesReusedHash       int            `json:"files_reused_hash"`
	LabelDistribution     map[string]int `json:"label_distribution"`
	ErrorBreakdown        map[string]int `json:"error_breakdown"`
	MeanConfidence        float64        `json:"mean_confidence"`
	FilesPerSec           float64        `json:"files_per_sec"`
	Interrupted           bool           `json:"interrupted"`
}

// Finalize stamps the end time and fills the derived rate fields.
func (s *RunSummary) Finalize(finished time.Time) {
	s.FinishedAt = finished
	if !s.StartedAt.IsZero() && finished.After(s.StartedAt) {
		s.ElapsedSec = finished.Sub(s.StartedAt).Seconds()
	}
	if s.ElapsedSec > 0 {
		s.FilesPerSec = float64(s.FilesProcessed) / s.ElapsedSec
	}
}

// CountLabel bumps the label distribution.
func (s *RunSummary) CountLabel(label string) {
	if s.LabelDistribution == nil {
		s.LabelDistribution = make(map[string]int)
	}
	s.LabelDistribution[label]++
}

// CountError bumps the error breakdown for an error category.
func (s *RunSummary) CountError(category string) {
	if s.ErrorBreakdown == nil {
		s.ErrorBreakdown = make(map[string]int)
	}
	s.ErrorBreakdown[category]++
	s.FilesErrored++
}

// WriteSummary persists the summary atomically.
func WriteSummary(path string, summary RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// LoadSummary reads a previously written summary.
func LoadSummary(path string) (RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunSummary{}, fmt.Errorf("read summary: %w", err)
	}
	var summary RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return RunSummary{}, fmt.Errorf("parse summary %s: %w", path, err)
	}
	return summary, nil
}
