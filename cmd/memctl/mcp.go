package main

import (
	"github.com/nidhogg/memhub/internal/mcp"
	"github.com/nidhogg/memhub/internal/memory"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve memory tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			budget := memory.DefaultContextBudget()
			budget.MaxTokens = a.Config.Memory.ContextMaxTokens
			return mcp.NewServer(a.Manager, version, budget).ServeStdio()
		},
	}
}
