// Command memctl inspects and edits memhub memories directly against the
// configured stores, and can serve them to an assistant over MCP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/nidhogg/memhub/internal/app"
	"github.com/nidhogg/memhub/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "memctl",
		Short: "Inspect and manage memhub memories",
		Long: `Inspect and manage memhub memories.

Examples:
  memctl extract "My name is Sam, not Samuel"
  memctl remember --user u1 "User likes chess"
  memctl retrieve --user u1 --query "what games do I like" --threshold 0
  memctl clear --user u1 --confirm`,
		Version:       version,
		SilenceUsage:  true,
	}

	defaultConfig := os.Getenv("MEMHUB_CONFIG")
	root.PersistentFlags().String("config", defaultConfig, "Config file (empty uses built-in defaults)")
	root.PersistentFlags().Bool("verbose", false, "Log store activity to stderr")

	root.AddCommand(newExtractCmd(), newScoreCmd())
	root.AddCommand(newRetrieveCmd(), newRememberCmd(), newForgetCmd(), newDeleteCmd(), newClearCmd(), newStatsCmd())
	root.AddCommand(newMCPCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Parse([]byte("{}"))
	}
	return config.Load(path)
}

// openApp connects the stores named by --config.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := zap.NewNop()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		if logger, err = app.NewLogger("debug"); err != nil {
			return nil, err
		}
	}
	return app.New(context.Background(), cfg, logger)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
