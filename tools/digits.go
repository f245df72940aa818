package tools

import "strings"

var digitWords = map[string][10]string{
	"pl": {"zero", "jeden", "dwa", "trzy", "cztery", "pięć", "sześć", "siedem", "osiem", "dziewięć"},
	"en": {"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine"},
}

const DefaultDigitLanguage = "pl"

// SpokenDigits spells every ASCII digit of s as a word in lang and joins the
// characters with single spaces. Other characters pass through unchanged.
// Unknown languages fall back to Polish.
func SpokenDigits(s, lang string) string {
	words, ok := digitWords[lang]
	if !ok {
		words = digitWords[DefaultDigitLanguage]
	}
	parts := make([]string, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			parts = append(parts, words[r-'0'])
			continue
		}
		parts = append(parts, string(r))
	}
	return strings.Join(parts, " ")
}

func DigitLanguages() []string {
	return []string{"pl", "en"}
}
