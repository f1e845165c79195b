package identity

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Supported digest algorithm names as they appear in configuration.
const (
	AlgorithmXXH64  = "xxh64"
	AlgorithmSHA256 = "sha256"
	AlgorithmMD5    = "md5"
)

// ErrUnknownAlgorithm reports a digest algorithm name outside the
// supported set.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

const hashBufferSize = 64 * 1024

// FileIdentity describes one archive file: where it lives, the stat
// metadata used for cache validity, and its content digest.
type FileIdentity struct {
	AbsPath   string
	RelPath   string
	Size      int64
	ModTime   int64 // unix nanoseconds
	Hash      string
	Algorithm string
}

// Algorithms returns the supported algorithm names in preference order.
func Algorithms() []string {
	return []string{AlgorithmXXH64, AlgorithmSHA256, AlgorithmMD5}
}

// Hasher computes hex-encoded content digests with a fixed algorithm.
// A Hasher reuses its read buffer between calls and is not safe for
// concurrent use; create one per worker.
type Hasher struct {
	algorithm string
	buf       []byte
}

// NewHasher returns a Hasher for the named algorithm.
func NewHasher(algorithm string) (*Hasher, error) {
	if _, err := newDigest(algorithm); err != nil {
		return nil, err
	}
	return &Hasher{algorithm: algorithm, buf: make([]byte, hashBufferSize)}, nil
}

// Algorithm returns the configured algorithm name.
func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// HashFile streams path through the digest and returns the hex-encoded
// sum.
func (h *Hasher) HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	sum, err := h.HashReader(file)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return sum, nil
}

// HashReader streams r through the digest and returns the hex-encoded
// sum.
func (h *Hasher) HashReader(r io.Reader) (string, error) {
	digest, err := newDigest(h.algorithm)
	if err != nil {
		return "", err
	}
	if h.buf == nil {
		h.buf = make([]byte, hashBufferSize)
	}
	if _, err := io.CopyBuffer(digest, r, h.buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

func newDigest(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case AlgorithmXXH64:
		return xxhash.New(), nil
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmMD5:
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}
