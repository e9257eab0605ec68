package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldChain strips combining marks so "José" and "Jose" compare equal.
var foldChain = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold returns the search form of s: accents removed, case folded, dashes
// and dots treated as spaces, whitespace collapsed.
func Fold(s string) string {
	s, _, _ = transform.String(foldChain, s)
	s = cases.Fold().String(s)
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == '.' || r == '_' {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// MatchesQuery reports whether every word of query occurs in one of fields.
// Word order is ignored, so "sharma rahul" finds "Rahul Sharma". An empty
// query matches everything.
func MatchesQuery(query string, fields ...string) bool {
	words := strings.Fields(Fold(query))
	if len(words) == 0 {
		return true
	}
	folded := make([]string, len(fields))
	for i, f := range fields {
		folded[i] = Fold(f)
	}
	for _, w := range words {
		found := false
		for _, f := range folded {
			if strings.Contains(f, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
