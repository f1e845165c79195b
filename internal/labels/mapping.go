package labels

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"

	"cratedig/internal/services"
)

// Source of the resolved class-name list.
const (
	SourceFile      = "file"
	SourceFallback  = "fallback"
	SourceGenerated = "generated"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// Fold normalizes a label for case-insensitive comparison. Trimming
// happens before folding so padded entries in hand-written files still
// match.
func Fold(label string) string {
	return cases.Fold().String(strings.TrimSpace(label))
}

// Resolve returns the class names for a model with outputDim classes
// and reports where they came from. An explicit mapping file must match
// outputDim exactly; a fallback list is used only when its length
// matches; otherwise generated class_N names fill in.
func Resolve(path string, fallback []string, outputDim int) ([]string, string, error) {
	if outputDim <= 0 {
		return nil, "", services.Wrap(services.ErrConfiguration, "labels", "resolve", fmt.Sprintf("model output_dim must be positive (got %d)", outputDim), nil)
	}

	if path != "" {
		classes, err := LoadMapping(path)
		if err != nil {
			return nil, "", err
		}
		if len(classes) != outputDim {
			return nil, "", services.Wrap(services.ErrConfiguration, "labels", "resolve",
				fmt.Sprintf("mapping %s has %d classes but model output_dim is %d", path, len(classes), outputDim), nil)
		}
		return classes, SourceFile, nil
	}

	if len(fallback) == outputDim {
		classes := make([]string, len(fallback))
		copy(classes, fallback)
		return classes, SourceFallback, nil
	}

	classes := make([]string, outputDim)
	for i := range classes {
		classes[i] = fmt.Sprintf("class_%d", i)
	}
	return classes, SourceGenerated, nil
}

// LoadMapping reads a JSON array of class names. Entries are trimmed;
// an empty entry is a configuration error.
func LoadMapping(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "labels", "load mapping", "read mapping file", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	var classes []string
	if err := json.Unmarshal(data, &classes); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "labels", "load mapping", "mapping file must be a JSON array of strings", err)
	}
	for i, class := range classes {
		class = strings.TrimSpace(class)
		if class == "" {
			return nil, services.Wrap(services.ErrConfiguration, "labels", "load mapping", fmt.Sprintf("mapping entry %d is empty", i), nil)
		}
		classes[i] = class
	}
	return classes, nil
}

// StubPlaceholder returns the placeholder name WriteStub emits for
// class index i.
func StubPlaceholder(i int) string {
	return fmt.Sprintf("<class_%d_name_here>", i)
}

// WriteStub writes a placeholder mapping file sized to outputDim. It
// refuses to overwrite an existing file.
func WriteStub(path string, outputDim int) error {
	if outputDim <= 0 {
		return services.Wrap(services.ErrValidation, "labels", "write stub", fmt.Sprintf("output_dim must be positive (got %d)", outputDim), nil)
	}
	if _, err := os.Stat(path); err == nil {
		return services.Wrap(services.ErrValidation, "labels", "write stub", fmt.Sprintf("refusing to overwrite %s", path), nil)
	}

	stub := make([]string, outputDim)
	for i := range stub {
		stub[i] = StubPlaceholder(i)
	}
	data, err := json.MarshalIndent(stub, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stub: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write stub: %w", err)
	}
	return nil
}
