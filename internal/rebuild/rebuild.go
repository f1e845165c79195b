package rebuild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"cratedig/internal/fileutil"
	"cratedig/internal/identity"
	"cratedig/internal/index"
	"cratedig/internal/logging"
	"cratedig/internal/routing"
	"cratedig/internal/services"
	"cratedig/internal/textutil"
)

// Placement modes.
const (
	ModeCopy     = "copy"
	ModeSymlink  = "symlink"
	ModeHardlink = "hardlink"
)

// Reserved names at the output root. Everything else there belongs to
// the user and is never touched, even in clean mode.
const (
	ManifestDirName = "_manifests"
	ErrorsFileName  = "_errors.txt"
	SummaryFileName = "_rebuild_summary.json"

	lockFileName = ".rebuild.lock"
)

// Progress is invoked once per placement outcome. Calls may arrive
// from multiple label workers but never concurrently.
type Progress func(done, total int)

// Options configures one rebuild. IndexPath and OutputRoot are
// required. HashAlgorithm must match the algorithm that produced the
// index's hashes; it drives unchanged detection in copy mode.
type Options struct {
	IndexPath     string
	OutputRoot    string
	Mode          string
	Clean         bool
	Dedup         string
	HashAlgorithm string
	MinFreeRatio  float64
	Workers       int
	Routing       routing.Config
	Overrides     map[string]string
	Logger        *slog.Logger
	Progress      Progress
}

// Summary is the terminal record of a rebuild, written to the output
// root even when the run stopped early. CompletedLabels holds the
// labels whose manifests were fully written before any failure.
type Summary struct {
	RunID             string         `json:"run_id"`
	Phase             string         `json:"phase"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	ElapsedSec        float64        `json:"elapsed_sec"`
	Mode              string         `json:"mode"`
	Clean             bool           `json:"clean"`
	Planned           int            `json:"planned"`
	Placed            int            `json:"placed"`
	Unchanged         int            `json:"unchanged"`
	Collisions        int            `json:"collisions"`
	SkippedErrors     int            `json:"skipped_errors"`
	SkippedDuplicates int            `json:"skipped_duplicates"`
	OverridesApplied  int            `json:"overrides_applied"`
	LabelDistribution map[string]int `json:"label_distribution"`
	CompletedLabels   []string       `json:"completed_labels"`
	Interrupted       bool           `json:"interrupted"`
}

// Engine materializes one index into one output root.
type Engine struct {
	opts   Options
	logger *slog.Logger
	statfs statfsFunc
}

// New validates options and constructs an engine.
func New(opts Options) (*Engine, error) {
	if strings.TrimSpace(opts.IndexPath) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "rebuild", "new", "index path is required", nil)
	}
	if strings.TrimSpace(opts.OutputRoot) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "rebuild", "new", "output root is required", nil)
	}
	switch opts.Mode {
	case "":
		opts.Mode = ModeCopy
	case ModeCopy, ModeSymlink, ModeHardlink:
	default:
		return nil, services.Wrap(services.ErrConfiguration, "rebuild", "new",
			fmt.Sprintf("unknown placement mode %q (want copy, symlink, or hardlink)", opts.Mode), nil)
	}
	switch opts.Dedup {
	case "":
		opts.Dedup = routing.DedupTag
	case routing.DedupTag, routing.DedupSkip, routing.DedupOff:
	default:
		return nil, services.Wrap(services.ErrConfiguration, "rebuild", "new",
			fmt.Sprintf("unknown dedup policy %q (want tag, skip, or off)", opts.Dedup), nil)
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.HashAlgorithm == "" {
		opts.HashAlgorithm = identity.AlgorithmXXH64
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "rebuild"),
		statfs: realStatfs,
	}, nil
}

// Run plans and executes the rebuild. Entries with error descriptors
// are never materialized; they land only in the errors manifest. The
// summary is written to the output root even when Run returns an
// error, as long as planning succeeded.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	started := time.Now().UTC()
	runID := "rebuild_" + started.Format("20060102_150405")
	ctx = services.WithPhase(services.WithRunID(ctx, runID), index.PhaseRebuild)
	logger := logging.WithContext(ctx, e.logger)

	if err := os.MkdirAll(e.opts.OutputRoot, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, "rebuild", "prepare output root", e.opts.OutputRoot, err)
	}
	lock := flock.New(filepath.Join(e.opts.OutputRoot, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "rebuild", "acquire rebuild lock", e.opts.OutputRoot, err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrValidation, "rebuild", "acquire rebuild lock", "another rebuild is already running against this output root", nil)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("release rebuild lock", logging.Error(err))
		}
	}()

	if e.opts.Mode == ModeCopy && e.opts.MinFreeRatio > 0 {
		if err := e.checkFreeSpace(); err != nil {
			return nil, err
		}
	}

	pl, err := e.buildPlan(logger)
	if err != nil {
		return nil, err
	}
	logger.Info("rebuild planned",
		logging.Int("placements", len(pl.placements)),
		logging.Int("label_dirs", len(pl.dirs)),
		logging.Int("skipped_errors", pl.skippedErrors),
		logging.Int("skipped_duplicates", pl.skippedDuplicates))

	if e.opts.Clean {
		if err := e.clean(logger, pl); err != nil {
			return nil, err
		}
	}

	summary := &Summary{
		RunID:             runID,
		Phase:             index.PhaseRebuild,
		StartedAt:         started,
		Mode:              e.opts.Mode,
		Clean:             e.opts.Clean,
		Planned:           len(pl.placements),
		Collisions:        pl.collisions,
		SkippedErrors:     pl.skippedErrors,
		SkippedDuplicates: pl.skippedDuplicates,
		OverridesApplied:  pl.overridesApplied,
		LabelDistribution: pl.distribution,
	}

	execErr := e.writeErrorsManifest(pl)
	if execErr == nil {
		execErr = e.execute(ctx, pl, summary)
	}

	if summary.CompletedLabels == nil {
		summary.CompletedLabels = []string{}
	}
	sort.Strings(summary.CompletedLabels)
	summary.Interrupted = ctx.Err() != nil
	finished := time.Now().UTC()
	summary.FinishedAt = finished
	if finished.After(started) {
		summary.ElapsedSec = finished.Sub(started).Seconds()
	}
	if err := e.writeSummary(summary); err != nil {
		execErr = errors.Join(execErr, err)
	}

	if execErr != nil {
		return summary, execErr
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("rebuild interrupted",
			logging.Int("placed", summary.Placed),
			logging.Any("completed_labels", summary.CompletedLabels))
		return summary, err
	}
	logger.Info("rebuild complete",
		logging.Int("placed", summary.Placed),
		logging.Int("unchanged", summary.Unchanged),
		logging.Int("skipped_errors", summary.SkippedErrors),
		logging.Float64("elapsed_sec", summary.ElapsedSec))
	return summary, nil
}

// clean removes previously materialized output: label directories the
// plan or the previous summary owns, the manifests directory, and the
// errors manifest. Unrelated files at the root are left alone.
func (e *Engine) clean(logger *slog.Logger, pl *plan) error {
	owned := make(map[string]struct{}, len(pl.byDir))
	for dir := range pl.byDir {
		owned[dir] = struct{}{}
	}
	prev, err := LoadSummary(e.opts.OutputRoot)
	switch {
	case err != nil:
		logger.Warn("previous rebuild summary unreadable; cleaning planned directories only", logging.Error(err))
	case prev != nil:
		for label := range prev.LabelDistribution {
			owned[textutil.LabelDir(label)] = struct{}{}
		}
		for _, label := range prev.CompletedLabels {
			owned[textutil.LabelDir(label)] = struct{}{}
		}
	}
	for dir := range owned {
		target := filepath.Join(e.opts.OutputRoot, dir)
		if err := os.RemoveAll(target); err != nil {
			return services.Wrap(services.ErrTransient, "rebuild", "clean label dir", target, err)
		}
	}
	if err := os.RemoveAll(filepath.Join(e.opts.OutputRoot, ManifestDirName)); err != nil {
		return services.Wrap(services.ErrTransient, "rebuild", "clean manifests", e.opts.OutputRoot, err)
	}
	if err := os.Remove(filepath.Join(e.opts.OutputRoot, ErrorsFileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrTransient, "rebuild", "clean errors manifest", e.opts.OutputRoot, err)
	}
	return nil
}

// writeErrorsManifest records every errored entry, one sorted
// path<TAB>descriptor line each. An index with no errors removes any
// stale manifest so the output always reflects the current index.
func (e *Engine) writeErrorsManifest(pl *plan) error {
	target := filepath.Join(e.opts.OutputRoot, ErrorsFileName)
	if len(pl.errored) == 0 {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrTransient, "rebuild", "remove stale errors manifest", target, err)
		}
		return nil
	}
	lines := make([]string, 0, len(pl.errored))
	for _, entry := range pl.errored {
		lines = append(lines, entry.RelativePath+"\t"+entry.ErrorText())
	}
	sort.Strings(lines)
	data := strings.Join(lines, "\n") + "\n"
	if err := fileutil.WriteFileAtomic(target, []byte(data), 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "rebuild", "write errors manifest", target, err)
	}
	return nil
}

func (e *Engine) writeSummary(s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrTransient, "rebuild", "marshal summary", s.RunID, err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFileAtomic(filepath.Join(e.opts.OutputRoot, SummaryFileName), data, 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "rebuild", "write summary", e.opts.OutputRoot, err)
	}
	return nil
}

// LoadSummary reads the rebuild summary under root. A missing summary
// is not an error; it returns nil.
func LoadSummary(root string) (*Summary, error) {
	data, err := os.ReadFile(filepath.Join(root, SummaryFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rebuild summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse rebuild summary: %w", err)
	}
	return &s, nil
}
