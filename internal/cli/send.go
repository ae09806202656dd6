package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skworld/advocate/internal/envelope"
	"github.com/skworld/advocate/internal/identity"
	"github.com/skworld/advocate/internal/model"
	"github.com/skworld/advocate/internal/transport"
)

var (
	sendThread string
	sendTTL    int
)

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendThread, "thread", "", "Conversation thread id")
	sendCmd.Flags().IntVar(&sendTTL, "ttl", 0, "Ephemeral lifetime in seconds (0 = durable)")
}

var sendCmd = &cobra.Command{
	Use:   "send <recipient-uri> <content...>",
	Short: "Seal and deliver a message to a peer",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	keys, err := identity.LoadKeyring(cfg.keyringPath())
	if err != nil {
		return fmt.Errorf("no identity at %s (run: advocated keygen): %w", cfg.keyringPath(), err)
	}
	registry, err := identity.Load(cfg.registryPath())
	if err != nil {
		return err
	}

	msg := model.NewChatMessage(keys.URI, args[0], strings.Join(args[1:], " "))
	msg.ThreadID = sendThread
	msg.TTL = sendTTL

	env, err := envelope.NewCodec(keys, registry).Encode(msg)
	if err != nil {
		return err
	}

	maildrop, err := transport.NewMaildrop(cfg.MaildropRoot)
	if err != nil {
		return err
	}
	if err := maildrop.Send(context.Background(), env); err != nil {
		return err
	}

	fmt.Printf("Sent %s to %s\n", msg.ID, args[0])
	return nil
}
