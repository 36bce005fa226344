package retriever

import (
	"strings"
	"unicode"

	"github.com/xhad/docqa/internal/models"
)

// redundancyThreshold is the maximum tolerated character-containment
// overlap between a candidate hit and any already-kept hit.
const redundancyThreshold = 0.5

// FilterRedundant walks the ordered hit list and drops every hit whose
// text is mostly contained, position-insensitively, in a hit kept
// earlier. It catches near-duplicate passages that exact (document,
// chunk) dedup cannot see. Run it before context assembly, not inside
// the index.
func FilterRedundant(hits []models.RetrievalHit) []models.RetrievalHit {
	var kept []models.RetrievalHit
	var keptCounts []map[rune]int

	for _, hit := range hits {
		counts := runeCounts(hit.Text)
		redundant := false
		for _, prev := range keptCounts {
			if containmentRatio(counts, prev) > redundancyThreshold {
				redundant = true
				break
			}
		}
		if redundant {
			continue
		}
		kept = append(kept, hit)
		keptCounts = append(keptCounts, counts)
	}
	return kept
}

// containmentRatio is the fraction of the candidate's characters that
// also appear in the kept text, counted with multiplicity.
func containmentRatio(candidate, kept map[rune]int) float64 {
	total := 0
	contained := 0
	for r, n := range candidate {
		total += n
		if m := kept[r]; m < n {
			contained += m
		} else {
			contained += n
		}
	}
	if total == 0 {
		return 0
	}
	return float64(contained) / float64(total)
}

func runeCounts(text string) map[rune]int {
	counts := make(map[rune]int, len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) {
			continue
		}
		counts[r]++
	}
	return counts
}
