package discovery

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cratedig/internal/identity"
	"cratedig/internal/logging"
	"cratedig/internal/services"
)

// WalkError records a path that could not be visited. The walk
// continues past these; they surface in the run summary.
type WalkError struct {
	Path string
	Err  error
}

// Result is the outcome of one archive scan. Files holds candidates in
// walk order with identity stat metadata filled in and digests empty.
type Result struct {
	Files        []identity.FileIdentity
	SkippedEmpty []string
	Errors       []WalkError
}

// Scan walks root and collects every regular file whose extension is in
// extensions. The root itself must exist and be a directory; anything
// below it that fails to stat is recorded in Result.Errors and skipped.
func Scan(root string, extensions []string, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "discovery")

	info, err := os.Stat(root)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "discovery", "scan", "archive root not accessible", err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrConfiguration, "discovery", "scan", "archive root is not a directory", nil)
	}

	allowed := extensionSet(extensions)
	result := &Result{}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, WalkError{Path: relativeTo(root, path), Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if _, ok := allowed[ext]; !ok {
			return nil
		}

		fileInfo, err := d.Info()
		if err != nil {
			result.Errors = append(result.Errors, WalkError{Path: relativeTo(root, path), Err: err})
			return nil
		}

		rel := relativeTo(root, path)
		if fileInfo.Size() == 0 {
			result.SkippedEmpty = append(result.SkippedEmpty, rel)
			return nil
		}

		result.Files = append(result.Files, identity.FileIdentity{
			AbsPath: path,
			RelPath: rel,
			Size:    fileInfo.Size(),
			ModTime: fileInfo.ModTime().UnixNano(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, services.Wrap(services.ErrTransient, "discovery", "scan", "walk archive root", walkErr)
	}

	logger.Debug("archive scan complete",
		logging.Int("files", len(result.Files)),
		logging.Int("skipped_empty", len(result.SkippedEmpty)),
		logging.Int("walk_errors", len(result.Errors)))
	return result, nil
}

func extensionSet(extensions []string) map[string]struct{} {
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}

func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
