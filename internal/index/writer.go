package index

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// DefaultQueueSize bounds the writer's input queue when the caller
// passes zero.
const DefaultQueueSize = 256

// CompressedSuffix marks gzip-compressed index files.
const CompressedSuffix = ".gz"

// ErrWriterClosed reports an Append after Close.
var ErrWriterClosed = errors.New("index writer is closed")

// Writer serializes entries to a JSON-lines index file. All file
// appends happen on one internal goroutine fed by a bounded queue, so
// concurrent producers never interleave mid-line. Append blocks when
// the queue is full; that backpressure is what bounds memory on large
// archives.
type Writer struct {
	path string

	queue chan Entry
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	loopErr error
	written int64

	file *os.File
	gz   *gzip.Writer
	buf  *bufio.Writer
}

// NewWriter creates the index file and starts the writer goroutine.
// When compress is set the path gains a .gz suffix unless it already
// carries one.
func NewWriter(path string, compress bool, queueSize int) (*Writer, error) {
	if compress && !strings.HasSuffix(path, CompressedSuffix) {
		path += CompressedSuffix
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create index file: %w", err)
	}

	w := &Writer{
		path:  path,
		queue: make(chan Entry, queueSize),
		done:  make(chan struct{}),
		file:  file,
	}

	var sink io.Writer = file
	if compress {
		w.gz = gzip.NewWriter(file)
		sink = w.gz
	}
	w.buf = bufio.NewWriterSize(sink, 256*1024)

	go w.loop()
	return w, nil
}

// Path returns the index file's resolved path, including any .gz
// suffix added for compression.
func (w *Writer) Path() string {
	return w.path
}

// Append queues one entry for writing. It blocks while the queue is
// full and returns early if ctx is cancelled or a previous write
// failed.
func (w *Writer) Append(ctx context.Context, entry Entry) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	if w.loopErr != nil {
		err := w.loopErr
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	select {
	case w.queue <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Written returns how many entries have been written so far.
func (w *Writer) Written() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close drains the queue, flushes buffers, and finalizes the file. It
// reports the first write error deferred from the background loop.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.queue)
	<-w.done

	var errs []error
	if err := w.buf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush index: %w", err))
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			errs = append(errs, fmt.Errorf("finalize gzip stream: %w", err))
		}
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close index file: %w", err))
	}

	w.mu.Lock()
	if w.loopErr != nil {
		errs = append([]error{w.loopErr}, errs...)
	}
	w.mu.Unlock()

	return errors.Join(errs...)
}

// loop owns the file handle. On a write failure it records the error
// and keeps draining so producers are never wedged on a full queue.
func (w *Writer) loop() {
	defer close(w.done)
	for entry := range w.queue {
		w.mu.Lock()
		failed := w.loopErr != nil
		w.mu.Unlock()
		if failed {
			continue
		}

		line, err := json.Marshal(entry)
		if err != nil {
			w.recordLoopErr(fmt.Errorf("marshal index entry %s: %w", entry.RelativePath, err))
			continue
		}
		line = append(line, '\n')
		if _, err := w.buf.Write(line); err != nil {
			w.recordLoopErr(fmt.Errorf("append index entry: %w", err))
			continue
		}

		w.mu.Lock()
		w.written++
		w.mu.Unlock()
	}
}

func (w *Writer) recordLoopErr(err error) {
	w.mu.Lock()
	if w.loopErr == nil {
		w.loopErr = err
	}
	w.mu.Unlock()
}
