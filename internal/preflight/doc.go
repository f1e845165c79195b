// Package preflight provides readiness checks for the paths and the
// predictor command a run depends on.
//
// RunInfer and RunRebuild bundle the checks for their phase; commands
// call them before any work starts so a bad path fails in milliseconds
// instead of partway through an archive walk. Err folds the failures
// into a single configuration error listing every problem at once.
//
// File checks for optional inputs (model, mapping, canonical map,
// overrides) run only when the corresponding path is configured.
package preflight
