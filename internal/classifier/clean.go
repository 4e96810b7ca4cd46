package classifier

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxNonASCIIFraction is the largest share of characters that may be
// stripped before a text is considered unusable.
const DefaultMaxNonASCIIFraction = 0.30

// StripNonASCII removes every non-ASCII rune and reports the fraction of runes
// removed.
func StripNonASCII(text string) (string, float64) {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return "", 0
	}
	var b strings.Builder
	b.Grow(len(text))
	kept := 0
	for _, r := range text {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			kept++
		}
	}
	return b.String(), float64(total-kept) / float64(total)
}

// Eligible strips text and reports whether it may be sent for classification.
func Eligible(text string, maxRemoved float64) (string, bool) {
	cleaned, removed := StripNonASCII(text)
	if removed > maxRemoved {
		return "", false
	}
	if strings.TrimSpace(cleaned) == "" {
		return "", false
	}
	return cleaned, true
}
