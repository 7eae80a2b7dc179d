package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/memhub/internal/memory"
)

// Memory is the part of memory.Manager the commands drive.
type Memory interface {
	Remember(ctx context.Context, userID, content, conversationID, source string) (*memory.RememberResult, error)
	Forget(ctx context.Context, userID, content string) (*memory.ForgetResult, error)
	Retrieve(ctx context.Context, q memory.Query) (*memory.RetrieveResult, error)
	ClearAll(ctx context.Context, userID string, confirm bool) (*memory.ClearResult, error)
	Stats(ctx context.Context, userID string) (*memory.Stats, error)
}

// RegisterMemoryCommands registers /remember, /forget, /recall, /clear and /stats.
func RegisterMemoryCommands(reg *Registry, m Memory) {
	reg.Register(rememberCommand(m))
	reg.Register(forgetCommand(m))
	reg.Register(recallCommand(m))
	reg.Register(clearCommand(m))
	reg.Register(statsCommand(m))
}

func rememberCommand(m Memory) *Command {
	return &Command{
		Name:        "remember",
		Description: "Store a fact in both short-term and long-term memory",
		Usage:       "/remember <fact>",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /remember <fact>"}, nil
			}
			res, err := m.Remember(ctx, cc.UserID, args, cc.ConversationID, memory.SourceExplicitCommand)
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed to remember: %v", err)}, nil
			}
			msg := fmt.Sprintf("I'll remember that: %q", args)
			if !res.StoredLongTerm {
				msg += " (long-term memory is unavailable, kept short-term only)"
			}
			return &CommandResult{Content: msg, Data: res}, nil
		},
	}
}

func forgetCommand(m Memory) *Command {
	return &Command{
		Name:        "forget",
		Description: "Delete a stored fact by its exact text",
		Usage:       "/forget <fact>",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /forget <fact>"}, nil
			}
			res, err := m.Forget(ctx, cc.UserID, args)
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed to forget: %v", err)}, nil
			}
			if res.RemovedCount == 0 {
				return &CommandResult{Content: fmt.Sprintf("No memory matching %q.", args), Data: res}, nil
			}
			return &CommandResult{Content: fmt.Sprintf("Forgot %d memories matching %q.", res.RemovedCount, args), Data: res}, nil
		},
	}
}

func recallCommand(m Memory) *Command {
	return &Command{
		Name:        "recall",
		Description: "Show what is remembered about a topic",
		Usage:       "/recall <query>",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /recall <query>"}, nil
			}
			res, err := m.Retrieve(ctx, memory.Query{UserID: cc.UserID, Text: args})
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed to recall: %v", err)}, nil
			}
			if len(res.Memories) == 0 {
				return &CommandResult{Content: "No memories found.", Data: res}, nil
			}
			var b strings.Builder
			for _, sm := range res.Memories {
				fmt.Fprintf(&b, "- %s (%.2f)\n", sm.Content, sm.RelevanceScore)
			}
			return &CommandResult{Content: b.String(), Data: res}, nil
		},
	}
}

func clearCommand(m Memory) *Command {
	return &Command{
		Name:        "clear",
		Description: "Delete every memory about you",
		Usage:       "/clear confirm",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			res, err := m.ClearAll(ctx, cc.UserID, strings.EqualFold(args, "confirm"))
			if errors.Is(err, memory.ErrConfirmationRequired) {
				return &CommandResult{Content: "This deletes all your memories. Type /clear confirm to proceed."}, nil
			}
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed to clear: %v", err)}, nil
			}
			return &CommandResult{Content: fmt.Sprintf("Cleared %d memories.", res.RemovedCount), Data: res}, nil
		},
	}
}

func statsCommand(m Memory) *Command {
	return &Command{
		Name:        "stats",
		Description: "Count your memories per tier",
		Usage:       "/stats",
		Handler: func(ctx context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			st, err := m.Stats(ctx, cc.UserID)
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed to count: %v", err)}, nil
			}
			return &CommandResult{
				Content: fmt.Sprintf("Short-term: %s, long-term: %s", countText(st.ShortTerm), countText(st.LongTerm)),
				Data:    st,
			}, nil
		},
	}
}

func countText(n *int) string {
	if n == nil {
		return "unavailable"
	}
	return fmt.Sprint(*n)
}
