// Package discovery walks the archive root and produces the ordered
// set of candidate audio files for a run. Filtering is by extension
// only; content inspection belongs to later stages. Zero-byte files
// are excluded up front and reported as skipped, and errors inside a
// subtree are recorded without aborting the walk.
package discovery
