package index_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cratedig/internal/index"
	"cratedig/internal/services"
)

func TestWriterSerializesConcurrentProducers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")
	writer, err := index.NewWriter(path, false, 8)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	const producers = 4
	const perProducer = 25

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				entry := index.Entry{
					RelativePath: fmt.Sprintf("p%d/file_%02d.wav", p, i),
					Hash:         fmt.Sprintf("%d-%d", p, i),
				}
				if err := writer.Append(context.Background(), entry); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if writer.Written() != producers*perProducer {
		t.Fatalf("Written = %d, want %d", writer.Written(), producers*perProducer)
	}

	seen := make(map[string]bool)
	err = index.ForEach(path, func(entry index.Entry, line int) error {
		if seen[entry.RelativePath] {
			return fmt.Errorf("duplicate line for %s", entry.RelativePath)
		}
		seen[entry.RelativePath] = true
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("read back %d entries, want %d", len(seen), producers*perProducer)
	}
}

func TestWriterCompressionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")
	writer, err := index.NewWriter(path, true, 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if !strings.HasSuffix(writer.Path(), ".jsonl.gz") {
		t.Fatalf("compressed writer path = %q, want .jsonl.gz suffix", writer.Path())
	}

	for i := 0; i < 3; i++ {
		entry := index.Entry{RelativePath: fmt.Sprintf("f%d.wav", i), ConfTop1: 0.5}
		if err := writer.Append(context.Background(), entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var count int
	err = index.ForEach(writer.Path(), func(entry index.Entry, line int) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if count != 3 {
		t.Fatalf("read %d entries from compressed index, want 3", count)
	}
}

func TestWriterAppendAfterClose(t *testing.T) {
	writer, err := index.NewWriter(filepath.Join(t.TempDir(), "index.jsonl"), false, 0)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := writer.Append(context.Background(), index.Entry{}); !errors.Is(err, index.ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}

func TestWriterRefusesExistingIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")
	if err := os.WriteFile(path, []byte("finalized\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := index.NewWriter(path, false, 0); err == nil {
		t.Fatal("writer must never reopen a finalized index")
	}
}

func TestReaderToleratesTruncatedFinalLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")
	payload := `{"relative_path":"a.wav","hash":"h1","errors":null}
{"relative_path":"b.wav","hash":"h2","errors":null}
{"relative_path":"c.wav","ha`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	var paths []string
	err := index.ForEach(path, func(entry index.Entry, line int) error {
		paths = append(paths, entry.RelativePath)
		return nil
	})
	if !errors.Is(err, index.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if len(paths) != 2 || paths[1] != "b.wav" {
		t.Fatalf("intact entries should be delivered first, got %v", paths)
	}
}

func TestReaderFinalLineWithoutNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")
	payload := `{"relative_path":"a.wav","hash":"h1","errors":null}
{"relative_path":"b.wav","hash":"h2","errors":null}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	reader, err := index.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	var count int
	for {
		_, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("read %d entries, want 2", count)
	}
}

func TestReaderMalformedMiddleLineIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")
	payload := `{"relative_path":"a.wav","hash":"h1","errors":null}
not json at all
{"relative_path":"c.wav","hash":"h3","errors":null}
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	err := index.ForEach(path, func(entry index.Entry, line int) error { return nil })
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for mid-file corruption, got %v", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error should name the offending line: %v", err)
	}
}

func TestReaderLineNumbersSkipBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.jsonl")
	payload := `{"relative_path":"a.wav","hash":"h1","errors":null}

{"relative_path":"b.wav","hash":"h2","errors":null}
`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	var lines []int
	err := index.ForEach(path, func(entry index.Entry, line int) error {
		lines = append(lines, line)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(lines) != 2 || lines[0] != 1 || lines[1] != 3 {
		t.Fatalf("line numbers = %v, want [1 3]", lines)
	}
}
