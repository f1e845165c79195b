package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// StubPredictorScript writes an executable JSON-lines predictor stub into
// dir, prepends dir to PATH, and returns the script's absolute path. The
// stub answers hello with the given class count, extract with a fixed
// feature vector, and predict with exactly one probability row whose first
// class dominates, so callers exercising predict must batch one file at a
// time.
func StubPredictorScript(t testing.TB, dir string, outputDim int) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir stub dir: %v", err)
	}

	probs := make([]string, 0, outputDim)
	for i := 0; i < outputDim; i++ {
		if i == 0 {
			probs = append(probs, "0.70")
			continue
		}
		probs = append(probs, "0.05")
	}
	row := "[" + strings.Join(probs, ",") + "]"

	script := fmt.Sprintf(`#!/bin/sh
while IFS= read -r line; do
	id=$(printf '%%s' "$line" | sed -n 's/^{"id":\([0-9]*\).*/\1/p')
	case "$line" in
	*'"op":"hello"'*)
		printf '{"id":%%s,"ok":true,"model":"stub-model","output_dim":%d}\n' "$id"
		;;
	*'"op":"extract"'*)
		printf '{"id":%%s,"ok":true,"features":[0.5,0.25,0.125],"duration_sec":0.42,"rms_db":-12.5,"spectral_centroid":1800.0,"spectral_rolloff":4200.0}\n' "$id"
		;;
	*'"op":"predict"'*)
		printf '{"id":%%s,"ok":true,"probs":[%s]}\n' "$id"
		;;
	*)
		printf '{"id":%%s,"ok":false,"error":"unsupported op"}\n' "$id"
		;;
	esac
done
`, outputDim, row)

	target := filepath.Join(dir, "predictor-stub")
	if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
		t.Fatalf("write predictor stub: %v", err)
	}

	oldPath := os.Getenv("PATH")
	if err := os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath); err != nil {
		t.Fatalf("set PATH: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})

	return target
}
