// Package scoring ranks remembered facts against a query with a cheap
// word-overlap heuristic. No embedding call is made, so it can serve as a
// pre-filter or as the whole ranking signal.
package scoring

import (
	"math"
	"regexp"
	"strings"
)

const (
	correctionScore = 0.01
	staleScore      = 0.02
	broadFloor      = 0.15

	exactWeight   = 0.5
	partialWeight = 0.2
	broadBonus    = 0.3
	nameBonus     = 0.4
	correctBonus  = 0.5
	workBonus     = 0.4
)

var (
	broadPhrases = []string{"what do you know", "tell me about"}
	floorPhrases = []string{"what do you know", "about me"}
	workWords    = []string{"work", "job", "career"}
)

// Hints carries per-user name knowledge derived from correction records.
// All names are lowercase.
type Hints struct {
	// StaleNames are names a correction marked as wrong.
	StaleNames []string
	// PreferredNames are names stated by non-correction records while at
	// least one correction exists.
	PreferredNames []string
}

// Score returns the relevance of content for query in [0, 1].
// It is a pure function of its arguments.
func Score(content, query string, h Hints) float64 {
	c := strings.ToLower(content)
	q := strings.ToLower(query)

	if IsCorrection(c) || strings.Contains(c, " not ") {
		return correctionScore
	}
	stale := h.mentionsStale(c)
	if stale {
		return staleScore
	}

	qWords := wordSet(q)
	cWords := wordSet(c)

	var raw float64
	for w := range qWords {
		if cWords[w] {
			raw += exactWeight
		}
	}
	for qw := range qWords {
		if len(qw) <= 2 {
			continue
		}
		for cw := range cWords {
			if len(cw) <= 2 {
				continue
			}
			if strings.Contains(qw, cw) || strings.Contains(cw, qw) {
				raw += partialWeight
			}
		}
	}
	if containsAny(q, broadPhrases) {
		raw += broadBonus
	}
	if strings.Contains(q, "name") && strings.Contains(c, "name") {
		raw += nameBonus
		if containsAny(c, h.PreferredNames) {
			raw += correctBonus
		}
	}
	if containsAny(q, workWords) && containsAny(c, workWords) {
		raw += workBonus
	}

	score := math.Min(raw/math.Max(float64(len(qWords)), 1), 1.0)
	if containsAny(q, floorPhrases) {
		score = math.Max(score, broadFloor)
	}
	return clamp(score)
}

// IsCorrection reports whether content is a correction record.
func IsCorrection(content string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(content)), "correction:")
}

var (
	incorrectNameRe = regexp.MustCompile(`name is not ([a-zA-Z ]+)`)
	statedNameRe    = regexp.MustCompile(`name is ([a-z][a-z.'-]*(?:\s+[a-z][a-z.'-]*)*)`)
)

// IncorrectName extracts the rejected name from a correction record.
func IncorrectName(content string) (string, bool) {
	m := incorrectNameRe.FindStringSubmatch(strings.ToLower(content))
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	return name, name != ""
}

// HintsFrom derives Hints from the contents collected for one user.
func HintsFrom(contents []string) Hints {
	var h Hints
	staleSet := make(map[string]bool)
	for _, c := range contents {
		if !IsCorrection(c) {
			continue
		}
		if name, ok := IncorrectName(c); ok && !staleSet[name] {
			staleSet[name] = true
			h.StaleNames = append(h.StaleNames, name)
		}
	}
	if len(h.StaleNames) == 0 {
		return h
	}

	seen := make(map[string]bool)
	for _, c := range contents {
		lc := strings.ToLower(c)
		if IsCorrection(lc) || strings.Contains(lc, " not ") {
			continue
		}
		m := statedNameRe.FindStringSubmatch(lc)
		if m == nil {
			continue
		}
		name := strings.TrimRight(strings.TrimSpace(m[1]), ".")
		if name == "" || staleSet[name] || seen[name] {
			continue
		}
		seen[name] = true
		h.PreferredNames = append(h.PreferredNames, name)
	}
	return h
}

// mentionsStale reports whether lowercase content states a stale name.
func (h Hints) mentionsStale(c string) bool {
	if !strings.Contains(c, "name") {
		return false
	}
	return containsAny(c, h.StaleNames)
}

// wordSet splits on whitespace.
func wordSet(s string) map[string]bool {
	fields := strings.Fields(s)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
