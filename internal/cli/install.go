package cli

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/skworld/advocate/internal/systemd"
)

var installSystemUser string

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().StringVar(&installSystemUser, "user", "", "Run the daemon as this system user (omit for a user unit)")
}

var installCmd = &cobra.Command{
	Use:   "install-unit",
	Short: "Print a systemd unit for the daemon",
	Long: "Renders an advocated.service unit pointing at this binary and the\n" +
		"current advocate home. Pipe it to the right place:\n" +
		"  advocated install-unit > ~/.config/systemd/user/advocated.service",
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	bin, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot locate binary: %w", err)
	}

	runAs := installSystemUser
	if runAs == "" {
		if u, err := user.Current(); err == nil && u.Uid == "0" {
			return fmt.Errorf("running as root: pass --user to pick the daemon account")
		}
	}

	unit, err := systemd.Unit(systemd.UnitOptions{
		BinaryPath: bin,
		Home:       cfg.Home,
		User:       runAs,
	})
	if err != nil {
		return err
	}

	fmt.Print(unit)
	return nil
}
