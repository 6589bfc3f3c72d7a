package heuristic

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize folds scanned content into a canonical matching form: NFKC
// (collapses homoglyph-style fullwidth/compatibility forms), lowercased,
// with all whitespace runs reduced to single spaces. The same form feeds
// cache hashing so that trivially restyled content hits the same entry.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(text))
	lastSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
