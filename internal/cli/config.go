package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// config resolves every path and tunable the daemon and the offline
// commands need. Values come from flags, then environment, then defaults.
type config struct {
	Home string

	HTTPAddr          string
	MaildropRoot      string
	EscalationTimeout time.Duration
	PollInterval      time.Duration // 0 means fsnotify watching
	RateRPS           float64
	RateBurst         int
}

func loadConfig() (*config, error) {
	home := flagHome
	if home == "" {
		home = os.Getenv("ADVOCATE_HOME")
	}
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		home = filepath.Join(userHome, ".advocate")
	}

	cfg := &config{
		Home:              home,
		HTTPAddr:          getEnv("ADVOCATE_HTTP_ADDR", "127.0.0.1:7411"),
		MaildropRoot:      getEnv("ADVOCATE_MAILDROP", filepath.Join(home, "maildrop")),
		EscalationTimeout: getEnvDuration("ADVOCATE_ESCALATION_TIMEOUT", 5*time.Minute),
		PollInterval:      getEnvDuration("ADVOCATE_POLL_INTERVAL", 0),
		RateRPS:           getEnvFloat("ADVOCATE_RATE_RPS", 5),
		RateBurst:         getEnvInt("ADVOCATE_RATE_BURST", 10),
	}
	return cfg, nil
}

func (c *config) keyringPath() string  { return filepath.Join(c.Home, "keyring.yaml") }
func (c *config) registryPath() string { return filepath.Join(c.Home, "registry.yaml") }
func (c *config) policyPath() string   { return filepath.Join(c.Home, "policy.yaml") }
func (c *config) threatPath() string   { return filepath.Join(c.Home, "threat.yaml") }
func (c *config) alertsPath() string   { return filepath.Join(c.Home, "alerts.yaml") }
func (c *config) ledgerPath() string   { return filepath.Join(c.Home, "data", "tokens.db") }
func (c *config) dedupPath() string    { return filepath.Join(c.Home, "data", "dedup") }
func (c *config) auditPath() string    { return filepath.Join(c.Home, "audit.jsonl") }
func (c *config) pendingDir() string   { return filepath.Join(c.Home, "pending") }

// apiBase returns the daemon URL for client commands.
func (c *config) apiBase() string {
	return "http://" + c.HTTPAddr
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
