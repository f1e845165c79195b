package textutil

import "strings"

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters are removed. The result is trimmed of leading/trailing whitespace.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(fileNameReplacer.Replace(name))
}

// LabelDir converts an assigned label into a directory name. Casing is
// preserved since labels are display names; unsafe characters are replaced
// and interior whitespace collapses to single underscores. Returns "unknown"
// when nothing safe remains.
func LabelDir(label string) string {
	cleaned := SanitizeFileName(label)
	if cleaned == "" {
		return "unknown"
	}
	fields := strings.Fields(cleaned)
	out := strings.Join(fields, "_")
	out = strings.Trim(out, "._")
	if out == "" {
		return "unknown"
	}
	return out
}
