package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// punctuation is the fixed set of characters removed before matching.
const punctuation = ".,!?¿¡;:'\"`’‘“”()[]{}<>-–—_/\\|&*#@%^+=~$"

// Normalize returns the matching form of raw: punctuation removed, accents
// stripped, lowercased, with runs of whitespace collapsed to one space.
// It never fails; the caller keeps the original text for logging.
func Normalize(raw string) string {
	stripped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(punctuation, r) {
			return -1
		}
		return r
	}, raw)

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, stripped); err == nil {
		stripped = folded
	}

	return strings.Join(strings.Fields(strings.ToLower(stripped)), " ")
}
