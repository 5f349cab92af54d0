// Package searchtext normalizes text for the dataset full-text index. The
// same folding is applied when the index vector is written and when a query
// is parsed, so accented and unaccented spellings match.
package searchtext

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases the input and strips combining marks, so "Glaciación"
// folds to "glaciacion".
func Fold(input string) string {
	folded, _, err := transform.String(folder, input)
	if err != nil {
		folded = input
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// Document folds and joins the indexed parts of a dataset (name plus
// selected metadata fields) into one index document.
func Document(parts ...string) string {
	folded := make([]string, 0, len(parts))
	for _, part := range parts {
		part = Fold(part)
		if part == "" {
			continue
		}
		folded = append(folded, part)
	}
	return strings.Join(folded, " ")
}
