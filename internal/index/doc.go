// Package index is the durable record of a classification run: one
// JSON object per file, streamed append-only while inference runs and
// treated as immutable afterwards. Rebuilds read the index instead of
// re-running the predictor, so every field a later routing pass could
// need is stored, including the full probability vector.
//
// A single writer goroutine owns the file handle; producers hand
// finished entries to a bounded queue and block when it fills. The
// reader streams entries back with line numbers and distinguishes a
// crash-truncated final line from mid-file corruption.
package index
