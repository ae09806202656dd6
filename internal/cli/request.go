package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/skworld/advocate/internal/model"
)

var (
	requestJustify string
	requestExpiry  time.Duration
	requestWait    time.Duration
)

func init() {
	rootCmd.AddCommand(requestCmd)
	requestCmd.Flags().StringVar(&requestJustify, "justification", "", "Why access is needed")
	requestCmd.Flags().DurationVar(&requestExpiry, "expiry", 0, "Requested token lifetime (e.g. 1h). Default: issuer default")
	requestCmd.Flags().DurationVar(&requestWait, "wait", time.Minute, "How long to wait if the request escalates")
}

var requestCmd = &cobra.Command{
	Use:   "request <requester-uri> <resource> <level>",
	Short: "Negotiate a capability token",
	Long: "Runs an access negotiation through the local policy. Auto-approved\n" +
		"requests return a token immediately; escalated ones wait for the\n" +
		"principal up to --wait.",
	Args: cobra.ExactArgs(3),
	RunE: runRequest,
}

func runRequest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	level := model.PermissionLevel(args[2])
	if !level.Valid() {
		return fmt.Errorf("unknown permission level %q", args[2])
	}

	req := model.NewAccessRequest(args[0],
		model.Scope{Resource: args[1], Level: level},
		requestJustify, requestExpiry)

	ctx, cancel := context.WithTimeout(context.Background(), requestWait)
	defer cancel()

	tok, err := rt.engine.NegotiateAccess(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("Token:    %s\n", tok.ID)
	fmt.Printf("Scope:    %s %s\n", tok.Scope.Level, tok.Scope.Resource)
	fmt.Printf("Expires:  %s\n", tok.ExpiresAt.Format(time.RFC3339))
	return nil
}
