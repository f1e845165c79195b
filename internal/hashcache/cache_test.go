package hashcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testEntry(path string) Entry {
	return Entry{
		Hash:      "deadbeefdeadbeef",
		Algorithm: "xxh64",
		Size:      44100,
		Mtime:     1700000000000000000,
		Path:      path,
		LastSeen:  time.Now().UTC(),
	}
}

func TestCacheStoreAndLookup(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "hashcache.json")
	cache := NewCache(cachePath, nil)

	entry := testEntry("kicks/kick_01.wav")
	if err := cache.Store(entry); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	found, ok := cache.Lookup("kicks/kick_01.wav")
	if !ok {
		t.Fatal("Lookup failed to find stored entry")
	}
	if found.Hash != entry.Hash {
		t.Errorf("Hash mismatch: got %q, want %q", found.Hash, entry.Hash)
	}
	if found.Algorithm != entry.Algorithm {
		t.Errorf("Algorithm mismatch: got %q, want %q", found.Algorithm, entry.Algorithm)
	}

	if _, ok := cache.Lookup("kicks/other.wav"); ok {
		t.Error("Lookup should return false for unknown path")
	}
	if _, ok := cache.Lookup("  "); ok {
		t.Error("Lookup should return false for blank path")
	}
}

func TestCachePersistence(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "hashcache.json")

	cache1 := NewCache(cachePath, nil)
	if err := cache1.Store(testEntry("snares/snare_02.wav")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := cache1.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cache2 := NewCache(cachePath, nil)
	found, ok := cache2.Lookup("snares/snare_02.wav")
	if !ok {
		t.Fatal("entry should persist across cache instances")
	}
	if found.Size != 44100 {
		t.Errorf("Size mismatch: got %d, want 44100", found.Size)
	}
}

func TestCacheSaveSkipsWhenClean(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "hashcache.json")
	cache := NewCache(cachePath, nil)

	if err := cache.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
		t.Fatal("Save without changes should not create the cache file")
	}
}

func TestEntryCurrentFor(t *testing.T) {
	entry := testEntry("toms/tom_01.wav")

	if !entry.CurrentFor("xxh64", 44100, 1700000000000000000) {
		t.Error("entry should be current for matching stat metadata")
	}
	if entry.CurrentFor("sha256", 44100, 1700000000000000000) {
		t.Error("entry must not be current under a different algorithm")
	}
	if entry.CurrentFor("xxh64", 44101, 1700000000000000000) {
		t.Error("entry must not be current after a size change")
	}
	if entry.CurrentFor("xxh64", 44100, 1700000000000000001) {
		t.Error("entry must not be current after an mtime change")
	}
}

func TestCacheTouchAndPrune(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "hashcache.json")
	cache := NewCache(cachePath, nil)

	old := testEntry("old/gone.wav")
	old.LastSeen = time.Now().Add(-48 * time.Hour)
	if err := cache.Store(old); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	kept := testEntry("kicks/kick_01.wav")
	kept.LastSeen = time.Now().Add(-48 * time.Hour)
	if err := cache.Store(kept); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	runStart := time.Now().Add(-time.Minute)
	cache.Touch("kicks/kick_01.wav", time.Now())

	removed := cache.Prune(runStart)
	if removed != 1 {
		t.Fatalf("Prune removed %d entries, want 1", removed)
	}
	if _, ok := cache.Lookup("old/gone.wav"); ok {
		t.Error("pruned entry should be gone")
	}
	if _, ok := cache.Lookup("kicks/kick_01.wav"); !ok {
		t.Error("touched entry should survive pruning")
	}
}

func TestCacheEmptyPath(t *testing.T) {
	cache := NewCache("", nil)

	if err := cache.Store(testEntry("a.wav")); err != nil {
		t.Errorf("Store with empty path should not error: %v", err)
	}
	if _, ok := cache.Lookup("a.wav"); ok {
		t.Error("Lookup with empty path should always return false")
	}
	if cache.Count() != 0 {
		t.Errorf("Count with empty path should be 0, got %d", cache.Count())
	}
	if err := cache.Save(); err != nil {
		t.Errorf("Save with empty path should not error: %v", err)
	}
}

func TestCacheStoreEmptyEntryPath(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "hashcache.json"), nil)

	entry := testEntry("")
	if err := cache.Store(entry); err == nil {
		t.Error("Store should fail for an entry without a path")
	}
}

func TestCacheCorruptedFile(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "hashcache.json")
	if err := os.WriteFile(cachePath, []byte("not valid json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	cache := NewCache(cachePath, nil)

	if err := cache.Store(testEntry("recovered.wav")); err != nil {
		t.Errorf("Store should work after corrupt file: %v", err)
	}
	if _, ok := cache.Lookup("recovered.wav"); !ok {
		t.Error("Lookup should work after recovering from corrupt file")
	}
}
