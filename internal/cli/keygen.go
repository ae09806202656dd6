package cli

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skworld/advocate/internal/identity"
)

var keygenForce bool

func init() {
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(trustCmd)
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "Overwrite an existing keyring")
}

var keygenCmd = &cobra.Command{
	Use:   "keygen <identity-uri>",
	Short: "Generate the advocate's identity keypairs",
	Long: "Creates fresh ed25519 signing and curve25519 encryption keypairs for\n" +
		"the given identity URI (e.g. capauth:alice@example.org) and stores\n" +
		"them under the advocate home directory.",
	Args: cobra.ExactArgs(1),
	RunE: runKeygen,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := cfg.keyringPath()
	if _, err := os.Stat(path); err == nil && !keygenForce {
		return fmt.Errorf("keyring already exists at %s (use --force to replace)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	keys, err := identity.GenerateKeyring(args[0])
	if err != nil {
		return err
	}
	if err := keys.Save(path); err != nil {
		return err
	}

	// Publish our own keys into the registry so peers can be handed the
	// same file.
	registry, err := identity.Load(cfg.registryPath())
	if err != nil {
		return err
	}
	registry.Register(keys.URI, keys.SigningPublic(), keys.BoxPublic)
	if err := registry.Save(cfg.registryPath()); err != nil {
		return err
	}

	fmt.Printf("Identity:    %s\n", keys.URI)
	fmt.Printf("Keyring:     %s\n", path)
	fmt.Printf("Signing key: %s\n", base64.StdEncoding.EncodeToString(keys.SigningPublic()))
	fmt.Printf("Box key:     %s\n", base64.StdEncoding.EncodeToString(keys.BoxPublic[:]))
	return nil
}

var trustCmd = &cobra.Command{
	Use:   "trust <identity-uri> <signing-key-b64> <box-key-b64>",
	Short: "Register a peer's public keys",
	Long:  "Adds a peer identity to the local registry so its envelopes verify\nand outbound mail to it can be sealed.",
	Args:  cobra.ExactArgs(3),
	RunE:  runTrust,
}

func runTrust(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	signing, err := base64.StdEncoding.DecodeString(args[1])
	if err != nil || len(signing) != ed25519.PublicKeySize {
		return fmt.Errorf("malformed signing key")
	}
	boxRaw, err := base64.StdEncoding.DecodeString(args[2])
	if err != nil || len(boxRaw) != 32 {
		return fmt.Errorf("malformed box key")
	}
	var boxKey [32]byte
	copy(boxKey[:], boxRaw)

	if err := os.MkdirAll(cfg.Home, 0700); err != nil {
		return err
	}
	registry, err := identity.Load(cfg.registryPath())
	if err != nil {
		return err
	}
	registry.Register(args[0], ed25519.PublicKey(signing), &boxKey)
	if err := registry.Save(cfg.registryPath()); err != nil {
		return err
	}

	fmt.Printf("Trusted %s\n", args[0])
	return nil
}
