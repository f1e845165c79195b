package index

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"cratedig/internal/services"
)

// ErrTruncated reports an index whose final line was cut short,
// typically by a crash mid-append. Everything before it is intact;
// callers may downgrade this to a warning.
var ErrTruncated = errors.New("index ends with a truncated line")

// Reader streams entries from a JSON-lines index file, transparently
// decompressing .gz files.
type Reader struct {
	path   string
	file   *os.File
	gz     *gzip.Reader
	buf    *bufio.Reader
	line   int
	sawEOF bool
}

// OpenReader opens an index for streaming reads.
func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	r := &Reader{path: path, file: file}
	if strings.HasSuffix(path, CompressedSuffix) {
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, services.Wrap(services.ErrValidation, "index", "read", "index is not a valid gzip stream", err)
		}
		r.gz = gz
		r.buf = bufio.NewReaderSize(gz, 256*1024)
	} else {
		r.buf = bufio.NewReaderSize(file, 256*1024)
	}
	return r, nil
}

// Line returns the line number of the most recently returned entry.
func (r *Reader) Line() int {
	return r.line
}

// Next returns the next entry. io.EOF signals a clean end; a wrapped
// ErrTruncated signals a partial final line.
func (r *Reader) Next() (Entry, error) {
	if r.sawEOF {
		return Entry{}, io.EOF
	}

	for {
		line, err := r.buf.ReadString('\n')
		complete := err == nil
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				// fall through with whatever partial line remains
			case errors.Is(err, io.ErrUnexpectedEOF):
				return Entry{}, fmt.Errorf("%w (line %d)", ErrTruncated, r.line+1)
			default:
				return Entry{}, fmt.Errorf("read index line %d: %w", r.line+1, err)
			}
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if complete {
				r.line++
				continue
			}
			return Entry{}, io.EOF
		}
		r.line++

		var entry Entry
		if uerr := json.Unmarshal([]byte(trimmed), &entry); uerr != nil {
			if !complete {
				return Entry{}, fmt.Errorf("%w (line %d)", ErrTruncated, r.line)
			}
			return Entry{}, services.Wrap(services.ErrValidation, "index", "read",
				fmt.Sprintf("malformed entry at line %d of %s", r.line, r.path), uerr)
		}

		if !complete {
			// Final line parsed despite the missing newline.
			r.sawEOF = true
		}
		return entry, nil
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	var errs []error
	if r.gz != nil {
		if err := r.gz.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ForEach streams every entry through fn with its line number. A
// truncated final line surfaces as ErrTruncated after all intact
// entries were delivered; fn errors abort the walk.
func ForEach(path string, fn func(Entry, int) error) error {
	reader, err := OpenReader(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(entry, reader.Line()); err != nil {
			return err
		}
	}
}
