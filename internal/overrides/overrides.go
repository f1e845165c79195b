package overrides

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"cratedig/internal/logging"
	"cratedig/internal/services"
)

// Override is one manual correction record: this content hash always
// receives the corrected label.
type Override struct {
	Hash  string `json:"hash"`
	Label string `json:"correct_label"`
	Note  string `json:"note,omitempty"`
}

// Map holds corrections keyed by content hash.
type Map map[string]Override

// Load reads override records from a JSON-lines file. An empty path or
// a missing file yields an empty map. A malformed record is a fatal
// configuration error, never silently skipped. When one hash appears on
// multiple lines the last record wins and a warning names both lines.
func Load(path string, logger *slog.Logger) (Map, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "overrides")

	result := make(Map)
	if path == "" {
		return result, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no overrides file; continuing without corrections",
				logging.String(logging.FieldPath, path))
			return result, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "overrides", "load", "open overrides file", err)
	}
	defer file.Close()

	firstLine := make(map[string]int)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record Override
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "overrides", "load",
				fmt.Sprintf("%s line %d is not a valid override record", path, lineNo), err)
		}
		record.Hash = strings.TrimSpace(record.Hash)
		record.Label = strings.TrimSpace(record.Label)
		if record.Hash == "" {
			return nil, services.Wrap(services.ErrConfiguration, "overrides", "load",
				fmt.Sprintf("%s line %d is missing a hash", path, lineNo), nil)
		}
		if record.Label == "" {
			return nil, services.Wrap(services.ErrConfiguration, "overrides", "load",
				fmt.Sprintf("%s line %d is missing a label", path, lineNo), nil)
		}

		if prev, seen := firstLine[record.Hash]; seen {
			logger.Warn("duplicate override; later record wins",
				logging.String(logging.FieldHash, record.Hash),
				logging.Int("line", lineNo),
				logging.Int("replaces_line", prev))
		}
		firstLine[record.Hash] = lineNo
		result[record.Hash] = record
	}
	if err := scanner.Err(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "overrides", "load", "read overrides file", err)
	}

	return result, nil
}

// Lookup returns the override for a hash if one exists.
func (m Map) Lookup(hash string) (Override, bool) {
	record, ok := m[hash]
	return record, ok
}

// Labels flattens the map to hash → corrected label for the router.
func (m Map) Labels() map[string]string {
	flat := make(map[string]string, len(m))
	for hash, record := range m {
		flat[hash] = record.Label
	}
	return flat
}
