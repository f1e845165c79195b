package hashcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"cratedig/internal/fileutil"
	"cratedig/internal/logging"
)

// Entry records one file's digest and the stat metadata it was computed
// under.
type Entry struct {
	Hash      string    `json:"hash"`
	Algorithm string    `json:"algorithm"`
	Size      int64     `json:"size"`
	Mtime     int64     `json:"mtime"` // unix nanoseconds
	Path      string    `json:"path"`  // archive-relative
	LastSeen  time.Time `json:"last_seen"`
}

// CurrentFor reports whether the cached digest is still usable for a
// file with the given stat metadata under the given algorithm.
func (e Entry) CurrentFor(algorithm string, size, mtime int64) bool {
	return e.Algorithm == algorithm && e.Size == size && e.Mtime == mtime
}

// Cache provides thread-safe access to the persisted digest cache.
type Cache struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]Entry // keyed by relative path
	dirty   bool
}

// NewCache loads the cache at path. A missing file starts empty; an
// unreadable or corrupt file starts empty with a warning. If path is
// empty the cache is disabled and every operation is a no-op.
func NewCache(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "hashcache")

	c := &Cache{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
	}

	if path == "" {
		return c
	}

	if err := c.load(); err != nil {
		logger.Warn("failed to load hash cache; starting empty",
			logging.Error(err),
			logging.String(logging.FieldPath, path))
	}

	return c
}

// Lookup returns the entry for a relative path if one is cached.
func (c *Cache) Lookup(relPath string) (Entry, bool) {
	relPath = strings.TrimSpace(relPath)
	if relPath == "" || c.path == "" {
		return Entry{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.entries[relPath]
	return entry, found
}

// Store adds or replaces the entry for entry.Path in memory. The change
// is not persisted until Save.
func (c *Cache) Store(entry Entry) error {
	entry.Path = strings.TrimSpace(entry.Path)
	if entry.Path == "" {
		return errors.New("cache entry path cannot be empty")
	}
	if c.path == "" {
		return nil
	}
	if entry.LastSeen.IsZero() {
		entry.LastSeen = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[entry.Path] = entry
	c.dirty = true
	return nil
}

// Touch refreshes LastSeen on an existing entry without altering the
// digest, marking the file as present in the current run.
func (c *Cache) Touch(relPath string, seen time.Time) {
	relPath = strings.TrimSpace(relPath)
	if relPath == "" || c.path == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.entries[relPath]
	if !found {
		return
	}
	entry.LastSeen = seen
	c.entries[relPath] = entry
	c.dirty = true
}

// Prune removes entries last seen before the cutoff and returns how
// many were dropped. Call only after a complete, uninterrupted walk:
// anything untouched then belongs to a file no longer in the archive.
func (c *Cache) Prune(before time.Time) int {
	if c.path == "" {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for path, entry := range c.entries {
		if entry.LastSeen.Before(before) {
			delete(c.entries, path)
			removed++
		}
	}
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// Count returns the number of cached entries.
func (c *Cache) Count() int {
	if c.path == "" {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Save writes the cache to disk atomically. It is a no-op when nothing
// changed since load.
func (c *Cache) Save() error {
	if c.path == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := fileutil.WriteFileAtomic(c.path, data, 0o644); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}

	c.dirty = false
	c.logger.Debug("saved hash cache",
		logging.Int("entry_count", len(entries)),
		logging.String(logging.FieldPath, c.path))
	return nil
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse cache file: %w", err)
	}

	c.entries = make(map[string]Entry, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Path) != "" {
			c.entries[entry.Path] = entry
		}
	}

	c.logger.Debug("loaded hash cache",
		logging.Int("entry_count", len(c.entries)),
		logging.String(logging.FieldPath, c.path))
	return nil
}
