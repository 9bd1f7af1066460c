package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// similarity scores how close candidate is to requested, in [0, 1].
//
// Composite score over lowercased names: an exact match short-circuits to
// 1.0; substring containment adds 0.8 (requested inside candidate) or 0.7
// (candidate inside requested); normalized Levenshtein similarity
// contributes at half weight; a full prefix relation adds 0.3. The sum is
// capped at 1.0.
func similarity(requested, candidate string) float64 {
	a := strings.ToLower(strings.TrimSpace(requested))
	b := strings.ToLower(strings.TrimSpace(candidate))
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0
	}

	var score float64
	switch {
	case strings.Contains(b, a):
		score += 0.8
	case strings.Contains(a, b):
		score += 0.7
	}

	dist := levenshtein.Distance(a, b, nil)
	longest := max(len(a), len(b))
	score += (1 - float64(dist)/float64(longest)) * 0.5

	if strings.HasPrefix(b, a) || strings.HasPrefix(a, b) {
		score += 0.3
	}

	return min(score, 1.0)
}

// match pairs a candidate name with its similarity score.
type match struct {
	name  string
	score float64
}

// rankMatches scores every candidate against the requested name and
// returns them best first. Zero-score candidates are dropped; ties break
// alphabetically so rankings are stable.
func rankMatches(requested string, candidates []string) []match {
	ranked := make([]match, 0, len(candidates))
	for _, c := range candidates {
		if s := similarity(requested, c); s > 0 {
			ranked = append(ranked, match{name: c, score: s})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})
	return ranked
}

// bestMatch returns the highest-scoring candidate. ok is false when no
// candidate scores above zero.
func bestMatch(requested string, candidates []string) (match, bool) {
	ranked := rankMatches(requested, candidates)
	if len(ranked) == 0 {
		return match{}, false
	}
	return ranked[0], true
}

// suggest formats the closest candidates as a hint for error messages,
// e.g. `k8s__get_pods (0.92), k8s__get_logs (0.61)`.
func suggest(requested string, candidates []string, limit int) string {
	ranked := rankMatches(requested, candidates)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	parts := make([]string, 0, len(ranked))
	for _, m := range ranked {
		parts = append(parts, fmt.Sprintf("%s (%.2f)", m.name, m.score))
	}
	return strings.Join(parts, ", ")
}
