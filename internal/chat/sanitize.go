package chat

import (
	"strings"
	"unicode/utf8"
)

// Sanitize strips runes that have no business in message content:
// C0/C1 control characters (except newline and tab) and explicit
// direction-override characters. Applied to both outbound composes and
// inbound payloads, so the store only ever holds clean text.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isProblematicRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return strings.TrimSpace(b.String())
}

func isProblematicRune(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	// C0 controls and DEL.
	case r < 0x20 || r == 0x7F:
		return true
	// C1 controls.
	case r >= 0x80 && r <= 0x9F:
		return true
	// Bidirectional override/embedding characters.
	case r >= 0x202A && r <= 0x202E:
		return true
	case r == utf8.RuneError:
		return true
	default:
		return false
	}
}
