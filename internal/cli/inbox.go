package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skworld/advocate/internal/model"
	"github.com/skworld/advocate/internal/transport"
)

var inboxKeep bool

func init() {
	rootCmd.AddCommand(inboxCmd)
	inboxCmd.Flags().BoolVar(&inboxKeep, "keep", false, "Leave envelopes in the inbox after reading")
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Drain the inbox through screening",
	Long: "Decrypts and screens every envelope in the maildrop inbox. Messages\n" +
		"that pass are printed; blocked and rejected envelopes are counted.",
	RunE: runInbox,
}

func runInbox(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	inbox := rt.maildrop.Inbox(rt.keys.URI)
	entries, err := os.ReadDir(inbox)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("Inbox is empty.")
			return nil
		}
		return err
	}

	ctx := context.Background()
	var shown, blocked, rejected int
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(inbox, e.Name())
		env, err := transport.ReadEnvelope(path)
		if err != nil {
			rejected++
			consume(path)
			continue
		}

		out, err := rt.engine.ScreenIncoming(ctx, env)
		switch {
		case errors.Is(err, model.ErrMessageBlocked):
			blocked++
		case err != nil:
			rejected++
		case out.Message != nil:
			shown++
			flag := ""
			if out.Result.Action == model.ScreenFlag {
				flag = fmt.Sprintf("  [flagged: %s]", out.Result.Reason)
			}
			fmt.Printf("%s  %s%s\n  %s\n",
				out.Message.CreatedAt.Format("2006-01-02 15:04"),
				out.Message.Sender, flag, out.Message.Content)
		}
		consume(path)
	}

	if shown == 0 {
		fmt.Println("No new messages.")
	}
	if blocked > 0 || rejected > 0 {
		fmt.Printf("(%d blocked, %d rejected)\n", blocked, rejected)
	}
	return nil
}

func consume(path string) {
	if !inboxKeep {
		_ = transport.Consume(path)
	}
}
