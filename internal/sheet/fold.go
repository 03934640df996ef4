package sheet

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Fold normalizes a label for lookup: NFKD decomposition with combining
// marks stripped, whitespace collapsed to single spaces, lower-cased.
// "Taxa   Metano", "TAXA METANO" and "Taxa Métano" all fold to the same key.
func Fold(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(strings.Join(strings.Fields(b.String()), " "))
}
