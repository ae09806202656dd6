// Package cli implements the advocated command tree.
package cli

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/skworld/advocate/internal/observability"
)

var (
	flagHome     string
	flagLogLevel string
	flagJSONLogs bool

	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "advocated",
	Short: "Personal advocate for secure agent-to-agent messaging",
	Long: "Screens inbound messages behind sealed envelopes, negotiates capability\n" +
		"tokens on the owner's behalf, and escalates anything the policy cannot\n" +
		"decide. Every decision lands in a hash-chained audit log.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Local .env overrides nothing already in the environment.
		_ = godotenv.Load()
		logger = observability.InitLogger("advocated", flagLogLevel, flagJSONLogs)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "Advocate home directory (default ~/.advocate)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "Emit JSON log lines instead of console output")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
