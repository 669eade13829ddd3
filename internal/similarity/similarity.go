// Package similarity scores how alike two short free-text labels are, such as
// company names or role titles taken from different emails.
package similarity

import (
	"strings"

	"golang.org/x/text/cases"
)

// ContainmentScore is returned when one folded string contains the other.
const ContainmentScore = 0.9

// Score returns a value in [0,1]. Containment ("Acme" in "Acme Corp") scores
// ContainmentScore; otherwise the Jaccard index of the whitespace token sets.
// Blank input scores 0.
func Score(a, b string) float64 {
	// cases.Caser keeps state and must not be shared between goroutines.
	fold := cases.Fold()
	a = strings.TrimSpace(fold.String(a))
	b = strings.TrimSpace(fold.String(b))

	// Every string contains "", so blanks are ruled out before containment.
	if a == "" || b == "" {
		return 0
	}

	if strings.Contains(a, b) || strings.Contains(b, a) {
		return ContainmentScore
	}

	left := tokenSet(a)
	right := tokenSet(b)
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}

	union := len(left) + len(right) - intersection
	return float64(intersection) / float64(max(1, union))
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
