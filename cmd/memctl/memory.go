package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/memhub/internal/memory"
	"github.com/spf13/cobra"
)

func userFlag(cmd *cobra.Command) {
	cmd.Flags().String("user", "", "User id")
	_ = cmd.MarkFlagRequired("user")
}

func newRetrieveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Retrieve the memories most relevant to a query",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			query, _ := cmd.Flags().GetString("query")
			limit, _ := cmd.Flags().GetInt("limit")
			format, _ := cmd.Flags().GetBool("format")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			q := memory.Query{UserID: user, Text: query, Limit: limit}
			if cmd.Flags().Changed("threshold") {
				th, _ := cmd.Flags().GetFloat64("threshold")
				q.Threshold = memory.Threshold(th)
			}
			res, err := a.Manager.Retrieve(context.Background(), q)
			if err != nil {
				return err
			}
			if format {
				fmt.Fprint(cmd.OutOrStdout(), memory.FormatContext(res.Memories, memory.DefaultContextBudget()))
				return nil
			}
			return printJSON(cmd, res)
		},
	}
	userFlag(cmd)
	cmd.Flags().String("query", "", "Query text")
	_ = cmd.MarkFlagRequired("query")
	cmd.Flags().Int("limit", 0, "Maximum memories (0 uses the configured default)")
	cmd.Flags().Float64("threshold", 0, "Minimum relevance score (unset uses the configured default)")
	cmd.Flags().Bool("format", false, "Print a prompt-ready context block instead of JSON")
	return cmd
}

func newRememberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remember <fact>",
		Short: "Store a fact in both tiers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			conv, _ := cmd.Flags().GetString("conversation")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Manager.Remember(context.Background(), user, strings.Join(args, " "), conv, memory.SourceExplicitCommand)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	userFlag(cmd)
	cmd.Flags().String("conversation", "", "Conversation id")
	return cmd
}

func newForgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget <fact>",
		Short: "Delete memories whose text equals the fact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Manager.Forget(context.Background(), user, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	userFlag(cmd)
	return cmd
}

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <text>",
		Short: "Delete memories containing text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			exact, _ := cmd.Flags().GetBool("exact")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Manager.Delete(context.Background(), user, strings.Join(args, " "), exact)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	userFlag(cmd)
	cmd.Flags().Bool("exact", false, "Match the whole text instead of a substring")
	return cmd
}

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every memory of a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			confirm, _ := cmd.Flags().GetBool("confirm")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Manager.ClearAll(context.Background(), user, confirm)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	userFlag(cmd)
	cmd.Flags().Bool("confirm", false, "Required; without it nothing is deleted")
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count a user's memories per tier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Manager.Stats(context.Background(), user)
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
	userFlag(cmd)
	return cmd
}
