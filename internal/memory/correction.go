package memory

import (
	"strings"

	"github.com/nidhogg/memhub/internal/scoring"
)

// incorrectNames collects the names rejected by correction records. It looks
// at every collected record, not only those that passed the relevance
// threshold, so a strict threshold cannot switch suppression off.
func incorrectNames(records []Record) []string {
	var names []string
	seen := make(map[string]bool)
	for _, r := range records {
		if !scoring.IsCorrection(r.Content) {
			continue
		}
		name, ok := scoring.IncorrectName(r.Content)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// invalidated reports whether content states a name some correction rejected.
func invalidated(content string, incorrect []string) bool {
	if len(incorrect) == 0 {
		return false
	}
	c := strings.ToLower(content)
	if !strings.Contains(c, "name") {
		return false
	}
	for _, name := range incorrect {
		if strings.Contains(c, name) {
			return true
		}
	}
	return false
}
