package services

import "context"

type contextKey string

const (
	runIDKey contextKey = "run_id"
	phaseKey contextKey = "phase"
	batchKey contextKey = "batch"
)

// WithRunID annotates context with the run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithPhase annotates context with the pipeline phase name (infer/rebuild).
func WithPhase(ctx context.Context, phase string) context.Context {
	if phase == "" {
		return ctx
	}
	return context.WithValue(ctx, phaseKey, phase)
}

// PhaseFromContext returns the phase name if present.
func PhaseFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(phaseKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithBatch annotates context with a 1-based batch ordinal.
func WithBatch(ctx context.Context, batch int) context.Context {
	if batch <= 0 {
		return ctx
	}
	return context.WithValue(ctx, batchKey, batch)
}

// BatchFromContext extracts the batch ordinal if present.
func BatchFromContext(ctx context.Context) (int, bool) {
	if v, ok := ctx.Value(batchKey).(int); ok && v > 0 {
		return v, true
	}
	return 0, false
}
