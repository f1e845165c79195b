// Package routing assigns the final label for a classified file. Route
// is a pure function over the stored prediction, the file's content
// hash, and the active configuration, so the same code produces the
// index's default decision during inference and recomputes decisions
// under new settings during rebuild without touching the predictor.
//
// Precedence, each rule short-circuiting: manual override by hash,
// canonical collapse, target-set membership, confidence threshold.
// Duplicate suppression is a separate pass (Deduper.Suppress) applied
// in index order so at most one instance of a content hash lands
// outside misc.
package routing
