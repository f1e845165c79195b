package inference

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"cratedig/internal/config"
	"cratedig/internal/discovery"
	"cratedig/internal/hashcache"
	"cratedig/internal/index"
	"cratedig/internal/labels"
	"cratedig/internal/logging"
	"cratedig/internal/services"
	"cratedig/internal/services/predictor"
)

// FeatureExtractor produces the model input vector and audio metadata
// for one archive file.
type FeatureExtractor interface {
	Extract(ctx context.Context, path string) (predictor.Features, error)
}

// Predictor scores a batch of feature vectors, returning one
// probability vector per input in order.
type Predictor interface {
	Predict(ctx context.Context, batch [][]float64) ([][]float64, error)
}

// Progress is invoked once per file outcome: indexed, errored, or
// skipped as a duplicate. Calls arrive from a single goroutine.
type Progress func(done, total int)

// Deps carries everything an Engine needs. Config, Extractor,
// Predictor, and Classes are required; the rest default to no-ops.
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Extractor FeatureExtractor
	Predictor Predictor
	Classes   []string
	Collapse  *labels.Collapse
	Overrides map[string]string
	Cache     *hashcache.Cache
	Progress  Progress
}

// Result reports where a finished run landed.
type Result struct {
	RunID     string
	RunDir    string
	IndexPath string
	Summary   index.RunSummary
}

// Engine executes classification runs. One Engine runs one pass at a
// time; the infer lock additionally serializes runs across processes.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	extractor FeatureExtractor
	predictor Predictor
	classes   []string
	collapse  *labels.Collapse
	overrides map[string]string
	cache     *hashcache.Cache
	progress  Progress
}

// New validates deps and constructs an engine.
func New(deps Deps) (*Engine, error) {
	if deps.Config == nil {
		return nil, services.Wrap(services.ErrConfiguration, "inference", "new", "config is required", nil)
	}
	if deps.Extractor == nil {
		return nil, services.Wrap(services.ErrConfiguration, "inference", "new", "feature extractor is required", nil)
	}
	if deps.Predictor == nil {
		return nil, services.Wrap(services.ErrConfiguration, "inference", "new", "predictor is required", nil)
	}
	if len(deps.Classes) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "inference", "new", "class names are required", nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		cfg:       deps.Config,
		logger:    logging.NewComponentLogger(logger, "inference"),
		extractor: deps.Extractor,
		predictor: deps.Predictor,
		classes:   deps.Classes,
		collapse:  deps.Collapse,
		overrides: deps.Overrides,
		cache:     deps.Cache,
		progress:  deps.Progress,
	}, nil
}

// Run executes one full pass over the archive and writes the run's
// index and summary. Per-file failures are recorded in index entries
// and never abort the run; the returned error reflects setup failures,
// resource failures, or cancellation. The summary is written even when
// Run returns an error, as long as the run directory was created.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	lockPath := e.cfg.InferLockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "inference", "prepare lock", lockPath, err)
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "inference", "acquire run lock", lockPath, err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrValidation, "inference", "acquire run lock", "another infer run is already active", nil)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			e.logger.Warn("release run lock", logging.Error(err))
		}
	}()

	started := time.Now().UTC()
	runDir, runID, err := e.createRunDir(started)
	if err != nil {
		return nil, err
	}
	ctx = services.WithPhase(services.WithRunID(ctx, runID), index.PhaseInfer)
	logger := logging.WithContext(ctx, e.teeRunLog(runDir))

	scan, err := discovery.Scan(e.cfg.Paths.ArchiveRoot, e.cfg.Audio.Extensions, logger)
	if err != nil {
		return nil, err
	}

	summary := index.RunSummary{
		RunID:             runID,
		Phase:             index.PhaseInfer,
		StartedAt:         started,
		FilesDiscovered:   len(scan.Files) + len(scan.SkippedEmpty),
		FilesSkippedEmpty: len(scan.SkippedEmpty),
	}
	// Walk errors have no index entry; they surface only in the
	// breakdown and do not count as errored files.
	for _, walkErr := range scan.Errors {
		if summary.ErrorBreakdown == nil {
			summary.ErrorBreakdown = make(map[string]int)
		}
		summary.ErrorBreakdown[categoryWalk]++
		logger.Warn("archive subtree skipped",
			logging.String(logging.FieldPath, walkErr.Path),
			logging.Error(walkErr.Err))
	}
	logger.Info("archive scan complete",
		logging.Int("files", len(scan.Files)),
		logging.Int("skipped_empty", len(scan.SkippedEmpty)),
		logging.Int("walk_errors", len(scan.Errors)))

	indexPath := filepath.Join(runDir, e.cfg.IndexFileName())
	writer, err := index.NewWriter(indexPath, e.cfg.Inference.CompressIndex, e.cfg.Inference.QueueSize)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "inference", "open index", indexPath, err)
	}

	interrupted, pipeErr := e.process(ctx, logger, scan.Files, writer, &summary)

	closeErr := writer.Close()
	if closeErr != nil {
		closeErr = services.Wrap(services.ErrTransient, "inference", "finalize index", writer.Path(), closeErr)
	}

	if e.cache != nil {
		if !interrupted && pipeErr == nil && len(scan.Errors) == 0 {
			if pruned := e.cache.Prune(started); pruned > 0 {
				logger.Debug("pruned stale hash cache entries", logging.Int("pruned", pruned))
			}
		}
		if err := e.cache.Save(); err != nil {
			logger.Warn("persist hash cache", logging.Error(err))
		}
	}

	summary.Interrupted = interrupted
	summary.Finalize(time.Now().UTC())
	summaryErr := index.WriteSummary(filepath.Join(runDir, index.SummaryFileName), summary)
	if summaryErr != nil {
		summaryErr = services.Wrap(services.ErrTransient, "inference", "write summary", runDir, summaryErr)
	}

	result := &Result{RunID: runID, RunDir: runDir, IndexPath: writer.Path(), Summary: summary}
	if err := errors.Join(pipeErr, closeErr, summaryErr); err != nil {
		return result, err
	}
	if interrupted {
		logger.Warn("run interrupted",
			logging.Int("files_processed", summary.FilesProcessed),
			logging.Int("files_errored", summary.FilesErrored))
		return result, ctx.Err()
	}
	logger.Info("run complete",
		logging.Int("files_processed", summary.FilesProcessed),
		logging.Int("files_errored", summary.FilesErrored),
		logging.Int("files_reused_hash", summary.FilesReusedHash),
		logging.Float64("elapsed_sec", summary.ElapsedSec))
	return result, nil
}

// RunLogName is the per-run log file written alongside the index.
const RunLogName = "run.log"

// teeRunLog duplicates engine logging into <runDir>/run.log so the run
// directory stays self-describing. Failure to open the file downgrades
// to stderr-only logging with a warning.
func (e *Engine) teeRunLog(runDir string) *slog.Logger {
	fileLogger, err := logging.New(logging.Options{
		Level:       e.cfg.Logging.Level,
		Format:      e.cfg.Logging.Format,
		OutputPaths: []string{filepath.Join(runDir, RunLogName)},
	})
	if err != nil {
		e.logger.Warn("open run log", logging.Error(err))
		return e.logger
	}
	fileHandler := logging.NewComponentLogger(fileLogger, "inference").Handler()
	return slog.New(logging.Fanout(e.logger.Handler(), fileHandler))
}

// createRunDir makes a fresh timestamped directory under the runs
// root, suffixing the name when a second run starts within the same
// second.
func (e *Engine) createRunDir(started time.Time) (string, string, error) {
	runsDir := e.cfg.Paths.RunsDir
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return "", "", services.Wrap(services.ErrConfiguration, "inference", "prepare runs dir", runsDir, err)
	}
	base := "run_" + started.Format("20060102_150405")
	name := base
	for attempt := 2; ; attempt++ {
		dir := filepath.Join(runsDir, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", services.Wrap(services.ErrTransient, "inference", "create run dir", dir, err)
		}
		if attempt > 1000 {
			return "", "", services.Wrap(services.ErrTransient, "inference", "create run dir", "no free run directory name under "+runsDir, nil)
		}
		name = fmt.Sprintf("%s_%d", base, attempt)
	}
}
