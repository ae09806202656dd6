package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skworld/advocate/internal/client"
)

var (
	approveResource string
	approveLevel    string
	approveTTL      time.Duration
	approveReason   string
)

func init() {
	rootCmd.AddCommand(approveCmd)
	approveCmd.Flags().StringVar(&approveResource, "resource", "", "Narrow the granted resource (default: as requested)")
	approveCmd.Flags().StringVar(&approveLevel, "level", "", "Narrow the granted level (default: as requested)")
	approveCmd.Flags().DurationVar(&approveTTL, "ttl", 0, "Granted token lifetime (default: issuer default)")
	approveCmd.Flags().StringVar(&approveReason, "reason", "", "Note recorded with the decision")
}

var approveCmd = &cobra.Command{
	Use:   "approve <correlation-id>",
	Short: "Approve an escalated access request",
	Long: "Resolves a pending escalation in the requester's favor. The granted\n" +
		"scope may be narrowed but never widened beyond what was asked.",
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	res := client.Resolution{
		Resource:   approveResource,
		Level:      approveLevel,
		TTLSeconds: int64(approveTTL / time.Second),
		Reason:     approveReason,
	}
	if err := client.New(cfg.apiBase()).Approve(context.Background(), args[0], res); err != nil {
		return err
	}

	fmt.Printf("Approved %s\n", args[0])
	return nil
}
