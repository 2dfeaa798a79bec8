package playback

import (
	"strings"
	"unicode"
)

// SanitizeForSpeech strips characters that synthesis engines tend to read
// aloud or choke on: emoji and other symbol runes, zero-width joiners, and
// variation selectors. Whitespace runs collapse to a single space.
func SanitizeForSpeech(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			space = true
		case speakable(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// speakable reports whether a rune should be passed to synthesis.
func speakable(r rune) bool {
	switch {
	case r == '‍': // zero-width joiner
		return false
	case r >= '︀' && r <= '️': // variation selectors
		return false
	case r >= 0x1F000 && r <= 0x1FFFF: // emoji and pictograph planes
		return false
	case r >= 0x2600 && r <= 0x27BF: // miscellaneous symbols, dingbats
		return false
	case unicode.Is(unicode.So, r): // remaining symbol runes
		return false
	}
	return true
}
