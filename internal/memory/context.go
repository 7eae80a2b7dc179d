package memory

import (
	"fmt"
	"strings"
)

// ContextBudget controls how much memory context is rendered for a prompt.
type ContextBudget struct {
	MaxTokens int // total token budget for memory context
	MaxItems  int // max number of memories, 0 means no limit
}

// DefaultContextBudget returns sensible defaults.
func DefaultContextBudget() ContextBudget {
	return ContextBudget{
		MaxTokens: 1000,
		MaxItems:  10,
	}
}

// FormatContext renders retrieved memories as a system prompt section,
// highest ranked first. Memories that would overflow the budget are skipped
// and smaller ones after them may still fit.
func FormatContext(memories []ScoredMemory, budget ContextBudget) string {
	if len(memories) == 0 {
		return ""
	}
	if budget.MaxTokens <= 0 {
		budget.MaxTokens = DefaultContextBudget().MaxTokens
	}

	var b strings.Builder
	header := "[Memory Context]\n"
	used := estimateTokens(header)
	count := 0
	for _, m := range memories {
		if budget.MaxItems > 0 && count >= budget.MaxItems {
			break
		}
		line := fmt.Sprintf("- %s (relevance: %.2f, %s)\n", m.Content, m.RelevanceScore, m.Tier)
		est := estimateTokens(line)
		if used+est > budget.MaxTokens {
			continue
		}
		if count == 0 {
			b.WriteString(header)
		}
		b.WriteString(line)
		used += est
		count++
	}
	return b.String()
}

// estimateTokens gives a rough token count (~4 chars per token).
func estimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		return 1
	}
	return n
}
