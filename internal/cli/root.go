package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "patchfactory",
	Short: "patchfactory: an LLM patch generation and evaluation harness",
	Long: `patchfactory drives a tool-calling LLM agent through a
generate → validate → evaluate loop for benchmark bug-fix instances.

Patches are linted and cleaned before they are handed to the external
evaluation harness. Artifacts (patches, predictions, trajectories, run
summaries and metrics) are written to the configured output directory.`,
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the context so
// running checkers, the agent and the harness are stopped.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default: ./patchfactory.yaml, ~/.patchfactory/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(serveCmd)
}
