package pdf

import (
	"regexp"
	"strings"
)

var (
	nonSafeRe        = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
	edgeUnderscoreRe = regexp.MustCompile(`^_+|_+$`)
)

// SanitizeBaseName turns a user-supplied file stem into something safe
// for output file names and Content-Disposition headers. Empty results
// fall back to "document"; anything longer than 80 runes is cut.
func SanitizeBaseName(value string) string {
	replaced := nonSafeRe.ReplaceAllString(value, "_")
	trimmed := edgeUnderscoreRe.ReplaceAllString(replaced, "")
	if trimmed == "" {
		return "document"
	}

	runes := []rune(trimmed)
	if len(runes) > 80 {
		return string(runes[:80])
	}
	return trimmed
}

// OutputName builds the download name for a converted document.
func OutputName(baseName, suffix string) string {
	return strings.TrimSuffix(baseName, ".pdf") + "-" + suffix + ".pdf"
}
