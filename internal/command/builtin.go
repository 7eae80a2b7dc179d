package command

import (
	"context"
	"fmt"
	"strings"
)

// RegisterBuiltins registers /help.
func RegisterBuiltins(reg *Registry) {
	reg.Register(helpCommand(reg))
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}
