package slot

import (
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeText prepares editor text for verification: trim, unify line
// endings, collapse whitespace runs. The editor rewraps pasted text into
// p/br elements, so exact comparison needs this normalization on both
// sides.
func normalizeText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return whitespaceRun.ReplaceAllString(text, " ")
}
