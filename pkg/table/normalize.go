package table

import (
	"strings"
	"unicode"
)

// NormalizeName folds a product name for duplicate detection: lowercase, punctuation
// and symbols become spaces, whitespace collapses.
func NormalizeName(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// SameProduct reports whether two normalized names refer to the same product. Besides
// equality, a name whose tokens appear contiguously inside the other matches, as long
// as it has at least two tokens ("breville vkj318" vs "breville vkj318 luxe").
func SameProduct(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if strings.Count(short, " ") < 1 {
		return false
	}
	return strings.Contains(" "+long+" ", " "+short+" ")
}
