// Package identity computes content identity for archive files. A file's
// identity is its streaming content digest plus the stat metadata
// (size, mtime) used to decide whether a cached digest is still valid.
//
// Three digest algorithms are supported: xxh64 (default, fastest),
// sha256, and md5. The algorithm travels with every identity so a cache
// populated under one algorithm is never misread under another.
package identity
