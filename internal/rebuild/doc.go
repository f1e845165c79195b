// Package rebuild materializes a classified archive from an index:
// one directory per final assigned label (misc included), populated by
// copy, symlink, or hardlink, with per-label manifests, an errors
// manifest, and a rebuild summary at the output root.
//
// Rebuilds are plan-then-execute. The plan pass re-routes every index
// entry with the rebuild's own routing config and overrides, applies
// duplicate suppression in index order, and assigns collision-free
// destination names deterministically. The execute pass parallelizes
// across label directories; each destination path is written by
// exactly one worker, and a label's manifest is written only after all
// of its files succeeded. Re-running with the same inputs yields
// byte-identical manifests and the same file set.
package rebuild
