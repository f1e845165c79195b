// Package services defines shared utilities consumed by the inference and
// rebuild engines and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, phase names, and batch ordinals for
//     logging and tracing.
//   - Structured error markers plus the Wrap helper that separate fatal setup
//     failures from recoverable per-file ones.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability) stays uniform across both phases.
package services
