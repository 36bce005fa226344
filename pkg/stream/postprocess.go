package stream

import "strings"

// shortLineLimit is the length below which repeated lines are assumed
// to be legitimate labels (bullets, "Yes.", headings) and always kept.
const shortLineLimit = 20

// DedupeLines removes repeated long lines from a finished answer. Lines
// shorter than shortLineLimit characters always survive; longer lines
// are deduplicated case-insensitively against every long line seen
// before them. Order and blank-line structure are preserved.
func DedupeLines(text string) string {
	if text == "" {
		return text
	}

	lines := strings.Split(text, "\n")
	seen := make(map[string]struct{})

	kept := lines[:0]
	for _, line := range lines {
		if len(line) < shortLineLimit {
			kept = append(kept, line)
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, line)
	}

	return strings.Join(kept, "\n")
}
