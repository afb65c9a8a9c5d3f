package search

import (
	"strings"
	"unicode"
)

// minTokenLength discards short, low-signal tokens ("a", "of") from both
// filter construction and query term derivation, per spec.md §4.6.
const minTokenLength = 2

// Tokenize lowercases s and splits it on whitespace and punctuation,
// discarding tokens shorter than minTokenLength. Used identically for
// building the local Bloom filter and for deriving a query's terms, so
// the two are guaranteed to agree on what a "term" is.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= minTokenLength {
			out = append(out, f)
		}
	}
	return out
}
