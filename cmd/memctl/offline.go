package main

import (
	"fmt"
	"strings"

	"github.com/nidhogg/memhub/internal/extract"
	"github.com/nidhogg/memhub/internal/scoring"
	"github.com/spf13/cobra"
)

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <message>",
		Short: "Print the candidate memories found in a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates := extract.Candidates(strings.Join(args, " "))
			if candidates == nil {
				candidates = []string{}
			}
			return printJSON(cmd, map[string][]string{"candidates": candidates})
		},
	}
}

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score --query <text> <memory>...",
		Short: "Score memories against a query",
		Long: `Score memories against a query. Correction hints are derived from
all given memories together, as retrieval does.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, _ := cmd.Flags().GetString("query")
			if query == "" {
				return fmt.Errorf("--query is required")
			}
			hints := scoring.HintsFrom(args)
			for _, m := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%.2f\t%s\n", scoring.Score(m, query, hints), m)
			}
			return nil
		},
	}
	cmd.Flags().String("query", "", "Query text")
	return cmd
}
