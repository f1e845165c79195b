// Package hashcache persists content digests between runs so unchanged
// files are never re-read. An entry is keyed by archive-relative path
// and remembers the stat metadata (size, mtime) it was computed under;
// a lookup only matches when both still agree and the digest algorithm
// is the configured one.
//
// The cache loads wholesale at startup, lives in memory behind a
// RWMutex during the run, and is written back atomically on Save.
// Entries for files not seen in a completed run can be dropped with
// Prune.
package hashcache
