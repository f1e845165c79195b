package index

import (
	"encoding/json"
	"fmt"

	"cratedig/internal/routing"
)

// TopKEntry is one ranked class with its probability. On the wire it is
// a two-element tuple, not an object.
type TopKEntry struct {
	Label string
	Prob  float64
}

// MarshalJSON encodes the entry as [label, prob].
func (e TopKEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Label, e.Prob})
}

// UnmarshalJSON decodes a [label, prob] tuple.
func (e *TopKEntry) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("topk entry must be a [label, prob] pair, got %d elements", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &e.Label); err != nil {
		return fmt.Errorf("topk label: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &e.Prob); err != nil {
		return fmt.Errorf("topk prob: %w", err)
	}
	return nil
}

// TopK is the ranked head of the probability vector.
type TopK []TopKEntry

// Entry is one file's record in the index. Field names are the wire
// contract; rebuilds from older indexes rely on them.
type Entry struct {
	RelativePath     string    `json:"relative_path"`
	AbsPath          string    `json:"abs_path"`
	Hash             string    `json:"hash"`
	Size             int64     `json:"size"`
	Mtime            int64     `json:"mtime"`
	DurationSec      float64   `json:"duration_sec"`
	RMSDB            float64   `json:"rms_db"`
	SpectralCentroid float64   `json:"spectral_centroid"`
	SpectralRolloff  float64   `json:"spectral_rolloff"`
	LabelTop1        string    `json:"label_top1"`
	ConfTop1         float64   `json:"conf_top1"`
	TopK             TopK      `json:"topk"`
	Probs            []float64 `json:"probs"`
	AssignedLabel    string    `json:"assigned_label"`
	AssignedReason   string    `json:"assigned_reason"`
	MiscRouted       bool      `json:"misc_routed"`
	BelowThreshold   bool      `json:"below_misc_threshold"`
	OutOfTarget      bool      `json:"out_of_target"`
	Duplicate        bool      `json:"duplicate,omitempty"`
	Errors           *string   `json:"errors"`
}

// Failed reports whether the entry carries an error descriptor. Failed
// entries are never materialized into label folders.
func (e *Entry) Failed() bool {
	return e.Errors != nil
}

// SetError records a per-file error descriptor.
func (e *Entry) SetError(msg string) {
	e.Errors = &msg
}

// ErrorText returns the error descriptor or an empty string.
func (e *Entry) ErrorText() string {
	if e.Errors == nil {
		return ""
	}
	return *e.Errors
}

// Prediction lifts the stored model output back into the router's
// input, so a rebuild re-applies routing without the predictor.
func (e *Entry) Prediction() routing.Prediction {
	return routing.Prediction{Top1: e.LabelTop1, Conf: e.ConfTop1}
}

// ApplyDecision copies a routing decision into the entry's assigned
// fields.
func (e *Entry) ApplyDecision(d routing.Decision) {
	e.AssignedLabel = d.Label
	e.AssignedReason = d.Reason
	e.MiscRouted = d.MiscRouted
	e.BelowThreshold = d.BelowThreshold
	e.OutOfTarget = d.OutOfTarget
}

// Decision reconstructs the stored routing outcome.
func (e *Entry) Decision() routing.Decision {
	return routing.Decision{
		Label:          e.AssignedLabel,
		Reason:         e.AssignedReason,
		MiscRouted:     e.MiscRouted,
		BelowThreshold: e.BelowThreshold,
		OutOfTarget:    e.OutOfTarget,
	}
}
