package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cratedig/internal/identity"
	"cratedig/internal/index"
	"cratedig/internal/routing"
)

// SeedEntry describes one archive file and its index record for tests that
// need a pre-built run index.
type SeedEntry struct {
	RelativePath string
	Body         string
	Label        string
	Conf         float64
	DurationSec  float64
	ErrorText    string
}

// SeedIndex writes the seed files under srcRoot, hashes them, and appends
// one index entry per seed to a JSONL index at indexPath. Entries carry the
// seed label both as model output and as the assigned label with a top1
// reason, matching what a completed inference run records.
func SeedIndex(t testing.TB, srcRoot, indexPath string, seeds []SeedEntry) {
	t.Helper()

	hasher, err := identity.NewHasher(identity.AlgorithmXXH64)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	writer, err := index.NewWriter(indexPath, false, 8)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, seed := range seeds {
		abs := filepath.Join(srcRoot, filepath.FromSlash(seed.RelativePath))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", seed.RelativePath, err)
		}
		if err := os.WriteFile(abs, []byte(seed.Body), 0o644); err != nil {
			t.Fatalf("write %s: %v", seed.RelativePath, err)
		}
		hash, err := hasher.HashFile(abs)
		if err != nil {
			t.Fatalf("hash %s: %v", seed.RelativePath, err)
		}
		entry := index.Entry{
			RelativePath:   seed.RelativePath,
			AbsPath:        abs,
			Hash:           hash,
			Size:           int64(len(seed.Body)),
			DurationSec:    seed.DurationSec,
			LabelTop1:      seed.Label,
			ConfTop1:       seed.Conf,
			AssignedLabel:  seed.Label,
			AssignedReason: routing.ReasonTop1,
		}
		if seed.ErrorText != "" {
			entry.SetError(seed.ErrorText)
		}
		if err := writer.Append(context.Background(), entry); err != nil {
			t.Fatalf("append %s: %v", seed.RelativePath, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close index writer: %v", err)
	}
}
