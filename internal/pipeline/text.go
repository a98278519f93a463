package pipeline

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldAccents strips combining marks, so "Pré-Call" becomes "Pre-Call".
// A new transformer is built per call because transform chains hold state.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// normalizeHeader lower-cases, folds accents and collapses whitespace.
// Punctuation is kept because some headers ("MQL?") depend on it.
func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(foldAccents(h))), " ")
}

// normalizeLabel is the canonical form for categorical values such as
// pipeline phases: accents folded, lower-cased, dashes and underscores
// treated as spaces.
func normalizeLabel(s string) string {
	s = strings.ToLower(foldAccents(s))
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// digitsOnly keeps ASCII digits.
func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
