package index_test

import (
	"encoding/json"
	"strings"
	"testing"

	"cratedig/internal/index"
	"cratedig/internal/routing"
)

func TestEntryWireFormat(t *testing.T) {
	entry := index.Entry{
		RelativePath: "kicks/kick_01.wav",
		AbsPath:      "/archive/kicks/kick_01.wav",
		Hash:         "aabbcc",
		Size:         1024,
		Mtime:        1700000000000000000,
		DurationSec:  0.42,
		LabelTop1:    "Kick",
		ConfTop1:     0.91,
		TopK:         index.TopK{{Label: "Kick", Prob: 0.91}, {Label: "Snare", Prob: 0.05}},
		Probs:        []float64{0.91, 0.05, 0.04},
	}
	entry.ApplyDecision(routing.Decision{Label: "Kick", Reason: routing.ReasonTop1})

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}
	payload := string(data)

	if !strings.Contains(payload, `"topk":[["Kick",0.91],["Snare",0.05]]`) {
		t.Errorf("topk should marshal as tuples, got %s", payload)
	}
	if !strings.Contains(payload, `"errors":null`) {
		t.Errorf("errors should marshal as null when absent, got %s", payload)
	}
	if strings.Contains(payload, `"duplicate"`) {
		t.Errorf("duplicate should be omitted when false, got %s", payload)
	}

	var back index.Entry
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if back.TopK[1].Label != "Snare" || back.TopK[1].Prob != 0.05 {
		t.Errorf("topk round trip lost data: %+v", back.TopK)
	}
	if back.Failed() {
		t.Error("entry without errors should not report Failed")
	}
}

func TestEntryErrorDescriptor(t *testing.T) {
	var entry index.Entry
	entry.SetError("extract: decode failure")

	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}
	if !strings.Contains(string(data), `"errors":"extract: decode failure"`) {
		t.Errorf("error descriptor should marshal as a string, got %s", data)
	}

	var back index.Entry
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if !back.Failed() || back.ErrorText() != "extract: decode failure" {
		t.Errorf("error round trip lost descriptor: %+v", back)
	}
}

func TestEntryDuplicateFieldDefaultsFalse(t *testing.T) {
	// Indexes written before duplicate tagging carry no such field.
	payload := `{"relative_path":"a.wav","hash":"h1","errors":null}`

	var entry index.Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry.Duplicate {
		t.Error("missing duplicate field must read as false")
	}
}

func TestEntryDecisionRoundTrip(t *testing.T) {
	decision := routing.Decision{
		Label:          "misc",
		Reason:         routing.ReasonBelowThreshold,
		MiscRouted:     true,
		BelowThreshold: true,
	}
	var entry index.Entry
	entry.ApplyDecision(decision)

	if got := entry.Decision(); got != decision {
		t.Errorf("Decision round trip = %+v, want %+v", got, decision)
	}
}

func TestTopKEntryRejectsBadTuples(t *testing.T) {
	var e index.TopKEntry
	if err := json.Unmarshal([]byte(`["Kick"]`), &e); err == nil {
		t.Error("one-element tuple should fail")
	}
	if err := json.Unmarshal([]byte(`["Kick",0.9,1]`), &e); err == nil {
		t.Error("three-element tuple should fail")
	}
	if err := json.Unmarshal([]byte(`{"label":"Kick"}`), &e); err == nil {
		t.Error("object form should fail")
	}
}
