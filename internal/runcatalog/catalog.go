// Package runcatalog keeps a local history of classification and
// rebuild runs in SQLite, so past runs can be listed and inspected
// after their terminal output is gone.
package runcatalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the terminal state of a recorded run.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Run is one recorded phase execution. ID is the row identity; RunID
// is the human-facing identifier shared with run directories and
// summaries.
type Run struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	Phase          string    `json:"phase"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	SourceRoot     string    `json:"source_root,omitempty"`
	RunDir         string    `json:"run_dir,omitempty"`
	IndexPath      string    `json:"index_path,omitempty"`
	OutputRoot     string    `json:"output_root,omitempty"`
	FilesProcessed int       `json:"files_processed"`
	FilesErrored   int       `json:"files_errored"`
	FilesSkipped   int       `json:"files_skipped"`
	MeanConfidence float64   `json:"mean_confidence"`
}

// Catalog manages run history persistence backed by SQLite.
type Catalog struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the catalog database and applies
// migrations.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure catalog dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	cat := &Catalog{db: db, path: path}
	if err := cat.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return cat, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Path returns the database location.
func (c *Catalog) Path() string {
	return c.path
}

const runColumns = `id, run_id, phase, status, started_at, finished_at,
    source_root, run_dir, index_path, output_root,
    files_processed, files_errored, files_skipped, mean_confidence`

// Record inserts one run and returns its row ID, assigning one when
// the caller left it empty.
func (c *Catalog) Record(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = StatusCompleted
	}
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.RunID,
		run.Phase,
		string(run.Status),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		finished,
		nullableString(run.SourceRoot),
		nullableString(run.RunDir),
		nullableString(run.IndexPath),
		nullableString(run.OutputRoot),
		run.FilesProcessed,
		run.FilesErrored,
		run.FilesSkipped,
		run.MeanConfidence,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return run.ID, nil
}

// Recent returns the newest runs, most recent first. A non-positive
// limit falls back to 20.
func (c *Catalog) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Get returns the run with the given run ID, or nil when no such run
// was recorded.
func (c *Catalog) Get(ctx context.Context, runID string) (*Run, error) {
	row := c.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = ? ORDER BY started_at DESC LIMIT 1`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run         Run
		status      string
		startedRaw  string
		finishedRaw sql.NullString
		sourceRoot  sql.NullString
		runDir      sql.NullString
		indexPath   sql.NullString
		outputRoot  sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.RunID,
		&run.Phase,
		&status,
		&startedRaw,
		&finishedRaw,
		&sourceRoot,
		&runDir,
		&indexPath,
		&outputRoot,
		&run.FilesProcessed,
		&run.FilesErrored,
		&run.FilesSkipped,
		&run.MeanConfidence,
	); err != nil {
		return Run{}, err
	}
	run.Status = Status(status)
	run.SourceRoot = sourceRoot.String
	run.RunDir = runDir.String
	run.IndexPath = indexPath.String
	run.OutputRoot = outputRoot.String
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = finished
		}
	}
	return run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
