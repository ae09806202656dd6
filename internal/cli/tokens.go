package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skworld/advocate/internal/client"
)

func init() {
	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(revokeCmd)
}

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List live capability tokens",
	RunE:  runTokens,
}

func runTokens(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tokens, err := client.New(cfg.apiBase()).Tokens(context.Background())
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		fmt.Println("No active tokens.")
		return nil
	}

	fmt.Printf("%-38s %-32s %-30s %-6s %s\n", "ID", "SUBJECT", "RESOURCE", "LEVEL", "EXPIRES")
	for _, t := range tokens {
		fmt.Printf("%-38s %-32s %-30s %-6s %s\n",
			t.ID, truncate(t.Subject, 32), truncate(t.Scope.Resource, 30),
			t.Scope.Level, t.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <token-id>",
	Short: "Permanently revoke a capability token",
	Args:  cobra.ExactArgs(1),
	RunE:  runRevoke,
}

func runRevoke(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := client.New(cfg.apiBase()).Revoke(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Revoked %s\n", args[0])
	return nil
}
