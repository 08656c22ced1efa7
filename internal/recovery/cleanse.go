package recovery

import (
	"regexp"
	"strings"
)

var (
	unicodeEscape = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)
	strayEscape   = regexp.MustCompile(`\\.`)
)

// Cleanse normalizes raw OCR output: newlines become spaces, literal \"
// becomes ", literal \uXXXX sequences and any other backslash-escaped
// character are removed, and surrounding whitespace is trimmed.
func Cleanse(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, `\"`, `"`)
	text = unicodeEscape.ReplaceAllString(text, "")
	text = strayEscape.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
