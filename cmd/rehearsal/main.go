// Command rehearsal is a test double for a WebSocket chat platform: it
// serves a scripted mock of the platform, drives scenarios against a
// mock or a real deployment, records transcripts, mints credential
// fixtures, and probes health endpoints.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rehearsal/internal/config"
	"rehearsal/internal/logging"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// Loaded in PersistentPreRunE, shared by every subcommand.
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rehearsal",
	Short: "rehearsal - a stand-in chat platform and the harness that interrogates it",
	Long: `rehearsal plays both sides of a WebSocket chat conversation.

The serve command runs a scripted mock of the platform for clients to
talk to. The run command plays scenarios against that mock, or against
a real deployment, and judges the transcripts. Everything speaks the
same envelope contract: message, stream_chunk, agent_start,
agent_complete, agent_message, error.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "rehearsal.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(scenariosCmd)
	rootCmd.AddCommand(probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
