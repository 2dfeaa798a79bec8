package loop

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// fuzzyMinLength is the keyword length at which one edit of
// Damerau-Levenshtein distance is tolerated ("quit" heard as "quid").
// Shorter keywords match exactly only, since a one-edit "bye" would also
// match "be".
const fuzzyMinLength = 4

// IsExitCommand reports whether the transcript asks to end the
// conversation. The whole transcript and each of its words are compared
// fuzzily against the keywords, so "Bye!" and "okay bye now" both match.
func IsExitCommand(transcript string, keywords []string) bool {
	cleaned := normalize(transcript)
	if cleaned == "" {
		return false
	}
	candidates := append([]string{cleaned}, strings.Fields(cleaned)...)
	for _, keyword := range keywords {
		kw := normalize(keyword)
		if kw == "" {
			continue
		}
		budget := 0
		if len(kw) >= fuzzyMinLength {
			budget = 1
		}
		for _, candidate := range candidates {
			if matchr.DamerauLevenshtein(candidate, kw) <= budget {
				return true
			}
		}
	}
	return false
}

// normalize lowercases and strips everything but letters, digits and
// spaces.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
