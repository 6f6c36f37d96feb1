// Package similarity scores how alike two bot replies are.
package similarity

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultThreshold is the ratio at or above which two replies count as repeats.
const DefaultThreshold = 0.92

// Ratio returns the longest-matching-blocks similarity of a and b in [0,1].
// Blank input on either side scores 0.
func Ratio(a, b string) float64 {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return 0
	}
	if a == b {
		return 1
	}

	// The matcher's block search is order sensitive; fix the order so the
	// score is symmetric.
	if b < a {
		a, b = b, a
	}

	m := difflib.NewMatcherWithJunk(splitChars(a), splitChars(b), false, nil)
	return m.Ratio()
}

// TooSimilar reports whether Ratio(a, b) reaches threshold.
func TooSimilar(a, b string, threshold float64) bool {
	return Ratio(a, b) >= threshold
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
