package labels

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"cratedig/internal/services"
)

const collapseNestedKey = "model_class_to_canonical"

// Collapse folds raw model classes into canonical coarse labels. The
// zero value passes every label through unchanged.
type Collapse struct {
	mapping map[string]string // folded raw -> canonical (original casing)
}

// NewCollapse builds a collapse table from raw-to-canonical pairs.
func NewCollapse(pairs map[string]string) *Collapse {
	c := &Collapse{mapping: make(map[string]string, len(pairs))}
	for raw, canonical := range pairs {
		canonical = strings.TrimSpace(canonical)
		if canonical == "" {
			continue
		}
		c.mapping[Fold(raw)] = canonical
	}
	return c
}

// LoadCollapse reads a collapse table from a JSON file. The object may
// be the mapping itself or carry it under a "model_class_to_canonical"
// key. An empty path yields a pass-through table.
func LoadCollapse(path string) (*Collapse, error) {
	if path == "" {
		return &Collapse{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapCollapseErr("read collapse file", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, wrapCollapseErr("collapse file must be a JSON object", err)
	}

	if nested, ok := envelope[collapseNestedKey]; ok {
		var pairs map[string]string
		if err := json.Unmarshal(nested, &pairs); err != nil {
			return nil, wrapCollapseErr(collapseNestedKey+" must map strings to strings", err)
		}
		return NewCollapse(pairs), nil
	}

	var pairs map[string]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, wrapCollapseErr("collapse file must map strings to strings", err)
	}
	return NewCollapse(pairs), nil
}

// Apply returns the canonical label for a raw class and whether a
// collapse happened. Unmapped labels pass through unchanged.
func (c *Collapse) Apply(label string) (string, bool) {
	if c == nil || len(c.mapping) == 0 {
		return label, false
	}
	canonical, ok := c.mapping[Fold(label)]
	if !ok {
		return label, false
	}
	return canonical, true
}

// Len returns the number of collapse pairs.
func (c *Collapse) Len() int {
	if c == nil {
		return 0
	}
	return len(c.mapping)
}

func wrapCollapseErr(message string, err error) error {
	return services.Wrap(services.ErrConfiguration, "labels", "load collapse", message, err)
}
