package overrides_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cratedig/internal/overrides"
	"cratedig/internal/services"
)

func writeOverrides(t *testing.T, payload string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overrides.jsonl")
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write overrides: %v", err)
	}
	return path
}

func TestLoadParsesRecords(t *testing.T) {
	path := writeOverrides(t, `{"hash": "aaa", "correct_label": "Kick", "note": "mislabeled by model"}

{"hash": "bbb", "correct_label": "misc"}
`)

	m, err := overrides.Load(path, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("loaded %d records, want 2", len(m))
	}

	record, ok := m.Lookup("aaa")
	if !ok || record.Label != "Kick" {
		t.Errorf("Lookup(aaa) = (%+v, %v)", record, ok)
	}
	if record.Note != "mislabeled by model" {
		t.Errorf("note not preserved: %q", record.Note)
	}

	flat := m.Labels()
	if flat["bbb"] != "misc" {
		t.Errorf("Labels()[bbb] = %q, want misc", flat["bbb"])
	}
}

func TestLoadEmptyAndMissing(t *testing.T) {
	m, err := overrides.Load("", nil)
	if err != nil || len(m) != 0 {
		t.Fatalf("empty path: got (%v, %v)", m, err)
	}

	m, err = overrides.Load(filepath.Join(t.TempDir(), "absent.jsonl"), nil)
	if err != nil || len(m) != 0 {
		t.Fatalf("missing file: got (%v, %v)", m, err)
	}
}

func TestLoadMalformedRecordIsFatal(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{"hash": "aaa", "label":`},
		{"missing hash", `{"correct_label": "Kick"}`},
		{"missing label", `{"hash": "aaa"}`},
		{"blank label", `{"hash": "aaa", "correct_label": "   "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeOverrides(t, tc.payload+"\n")
			if _, err := overrides.Load(path, nil); !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestLoadDuplicateHashLastWins(t *testing.T) {
	path := writeOverrides(t, `{"hash": "aaa", "correct_label": "Kick"}
{"hash": "aaa", "correct_label": "Snare"}
`)

	m, err := overrides.Load(path, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	record, ok := m.Lookup("aaa")
	if !ok || record.Label != "Snare" {
		t.Fatalf("last record should win, got (%+v, %v)", record, ok)
	}
}
