package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skworld/advocate/internal/client"
)

var denyReason string

func init() {
	rootCmd.AddCommand(denyCmd)
	denyCmd.Flags().StringVar(&denyReason, "reason", "", "Note recorded with the decision")
}

var denyCmd = &cobra.Command{
	Use:   "deny <correlation-id>",
	Short: "Deny an escalated access request",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

func runDeny(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := client.New(cfg.apiBase()).Deny(context.Background(), args[0], denyReason); err != nil {
		return err
	}

	fmt.Printf("Denied %s\n", args[0])
	return nil
}
