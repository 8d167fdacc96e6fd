package rules

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds a free-text name for comparison: accents stripped, NFC,
// lower case, single spaces.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = norm.NFC.String(s)
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Squash is Normalize with every non letter/digit removed, so "ChocoFlakes"
// and "choco-flakes" compare equal.
func Squash(s string) string {
	var b strings.Builder
	for _, r := range Normalize(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
