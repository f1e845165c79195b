// Package logging builds the slog loggers used across the pipeline.
//
// Two output formats are supported: a console handler that renders
// timestamped, component-prefixed lines with k=v attributes, and a JSON
// handler for machine consumption. Loggers write to stderr by default so
// command output on stdout stays parseable; file destinations are appended
// when configured (the shared log directory, plus a per-run log inside each
// run directory).
//
// NewComponentLogger tags a subsystem logger with a stable component name and
// WithContext stamps run/phase/batch fields carried in a context.
package logging
