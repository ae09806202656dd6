package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skworld/advocate/internal/policy"
)

func init() {
	rootCmd.AddCommand(initPolicyCmd)
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy",
	Short: "Generate a commented default policy.yaml",
	Long: "Creates policy.yaml under the advocate home directory with default\n" +
		"screening thresholds and access rules. Edit it to customize behavior.",
	RunE: runInitPolicy,
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Home, 0700); err != nil {
		return fmt.Errorf("cannot create home directory: %w", err)
	}

	path := cfg.policyPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("policy.yaml already exists at %s", path)
	}

	if err := os.WriteFile(path, []byte(policy.DefaultConfigYAML()), 0644); err != nil {
		return fmt.Errorf("failed to write policy.yaml: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	return nil
}
