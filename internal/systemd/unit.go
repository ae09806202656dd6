// Package systemd generates the service unit that keeps advocated running
// as a long-lived per-user daemon.
package systemd

import (
	"fmt"
	"strings"
)

// UnitOptions fill the advocated.service template.
type UnitOptions struct {
	BinaryPath string // absolute path to the advocated binary
	Home       string // advocate home directory
	User       string // system user the daemon runs as; empty for a user unit
}

// Unit renders a systemd service unit for the daemon.
func Unit(opts UnitOptions) (string, error) {
	if opts.BinaryPath == "" {
		return "", fmt.Errorf("systemd: binary path required")
	}
	if !strings.HasPrefix(opts.BinaryPath, "/") {
		return "", fmt.Errorf("systemd: binary path must be absolute, got %q", opts.BinaryPath)
	}
	if opts.Home == "" {
		return "", fmt.Errorf("systemd: home directory required")
	}

	var b strings.Builder
	b.WriteString(`[Unit]
Description=Personal advocate daemon
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
`)
	fmt.Fprintf(&b, "Environment=ADVOCATE_HOME=%s\n", opts.Home)
	if opts.User != "" {
		fmt.Fprintf(&b, "User=%s\n", opts.User)
	}
	fmt.Fprintf(&b, "ExecStart=%s serve\n", opts.BinaryPath)
	b.WriteString(`Restart=on-failure
RestartSec=2
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=read-only
`)
	fmt.Fprintf(&b, "ReadWritePaths=%s\n", opts.Home)
	b.WriteString(`
[Install]
WantedBy=default.target
`)
	return b.String(), nil
}
