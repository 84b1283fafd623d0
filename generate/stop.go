package generate

import (
	"strings"
	"unicode/utf8"
)

// findStop reports whether any stop sequence occurs in sequence and
// returns the first match.
func findStop(sequence string, stops []string) (bool, string) {
	for _, stop := range stops {
		if strings.Contains(sequence, stop) {
			return true, stop
		}
	}
	return false, ""
}

// holdbackLen returns how many trailing bytes of sequence must be held
// back because they match a prefix of some stop sequence.
func holdbackLen(sequence string, stops []string) int {
	longest := 0
	for _, stop := range stops {
		for i := 1; i <= len(stop) && i <= len(sequence); i++ {
			if strings.HasSuffix(sequence, stop[:i]) && i > longest {
				longest = i
			}
		}
	}
	return longest
}

// validUTF8Prefix splits b into its longest valid UTF-8 prefix and the
// trailing bytes of an incomplete rune, if any. Genuinely invalid bytes
// are passed through rather than held forever.
func validUTF8Prefix(b []byte) (valid, rest []byte) {
	// A rune is at most 4 bytes, so only the tail can be incomplete.
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if r, _ := utf8.DecodeRune(b[i:]); r == utf8.RuneError && !utf8.FullRune(b[i:]) {
				return b[:i], b[i:]
			}
			break
		}
	}
	return b, nil
}
