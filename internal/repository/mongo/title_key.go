package mongo

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// titleKey folds a title for lookup: accents stripped, lower case, single spaces.
// "  Amélie " and "amelie" share a key.
func titleKey(title string) string {
	folded := strings.TrimSpace(title)
	if folded == "" {
		return ""
	}
	// Transformers keep state, so the chain is built per call.
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(chain, folded); err == nil {
		folded = out
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
