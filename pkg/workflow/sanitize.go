package workflow

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeInput normalizes user text to NFKC, drops control characters other than
// newlines and tabs, trims it, and caps it at maxChars runes (0 means no cap).
func SanitizeInput(text string, maxChars int) string {
	text = norm.NFKC.String(text)
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if maxChars > 0 {
		if runes := []rune(text); len(runes) > maxChars {
			text = strings.TrimSpace(string(runes[:maxChars]))
		}
	}
	return text
}
