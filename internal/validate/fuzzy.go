package validate

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// NormalizeName is the key used for name lookups: trimmed and case-folded.
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Similarity is 1 - editDistance/longerLength over normalized names, so
// identical names score 1 and unrelated names approach 0.
func Similarity(a, b string) float64 {
	a, b = NormalizeName(a), NormalizeName(b)
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Suggest returns the known name closest to name, provided its similarity
// reaches threshold. Ties go to the earlier entry in known.
func Suggest(name string, known []string, threshold float64) (string, bool) {
	best, bestScore := "", -1.0
	for _, k := range known {
		if score := Similarity(name, k); score > bestScore {
			best, bestScore = k, score
		}
	}
	if best == "" || bestScore < threshold {
		return "", false
	}
	return best, true
}
