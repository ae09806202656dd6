package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skworld/advocate/internal/approval"
	"github.com/skworld/advocate/internal/client"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List escalated access requests awaiting a decision",
	Long: "Asks the running daemon for live escalations; if the daemon is down,\n" +
		"falls back to the on-disk approval records.",
	RunE: runPending,
}

func runPending(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	c := client.New(cfg.apiBase())
	if c.Healthy(ctx) {
		pending, err := c.Pending(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No pending escalations.")
			return nil
		}
		fmt.Printf("%-38s %-32s %-30s %s\n", "CORRELATION", "REQUESTER", "RESOURCE", "LEVEL")
		for _, r := range pending {
			fmt.Printf("%-38s %-32s %-30s %s\n",
				r.CorrelationID, truncate(r.Requester, 32),
				truncate(r.Scope.Resource, 30), r.Scope.Level)
		}
		return nil
	}

	store, err := approval.NewStore(cfg.pendingDir())
	if err != nil {
		return err
	}
	list, err := store.Pending()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No pending escalations (daemon not running).")
		return nil
	}
	fmt.Printf("%-38s %-32s %-30s %s\n", "KEY", "REQUESTER", "RESOURCE", "CREATED")
	for _, a := range list {
		fmt.Printf("%-38s %-32s %-30s %s\n",
			a.Key, truncate(a.Requester, 32),
			truncate(a.Resource, 30), a.CreatedAt.Format("15:04:05"))
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
