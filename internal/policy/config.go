// Package policy evaluates screening and access decisions against
// configurable thresholds and predicate rules. The engine is an explicit
// value injected at construction — never process-wide state — so tests can
// run arbitrary configurations side by side.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/skworld/advocate/internal/identity"
	"github.com/skworld/advocate/internal/model"
)

// Thresholds define the screening decision boundaries. A score strictly
// above BlockThreshold blocks; strictly above FlagThreshold flags; equality
// classifies as the lower-severity outcome.
type Thresholds struct {
	FlagThreshold  float64 `yaml:"flag_threshold"`
	BlockThreshold float64 `yaml:"block_threshold"`
}

// AccessRule is a predicate matched against a requested capability scope.
// Decision is "auto_approve" or "auto_deny"; requests matching no rule
// escalate to the human principal.
type AccessRule struct {
	ResourcePattern string `yaml:"resource_pattern"`
	MaxLevel        string `yaml:"max_level"` // highest permission the rule covers
	Decision        string `yaml:"decision"`
	Reason          string `yaml:"reason"`
}

// Config holds all configurable policy parameters.
type Config struct {
	Thresholds  Thresholds   `yaml:"thresholds"`
	AccessRules []AccessRule `yaml:"access_rules"`
}

// DefaultConfig returns the built-in policy.
func DefaultConfig() *Config {
	return &Config{
		Thresholds: Thresholds{
			FlagThreshold:  0.5,
			BlockThreshold: 0.8,
		},
		AccessRules: []AccessRule{
			{
				ResourcePattern: "/shared/*",
				MaxLevel:        "read",
				Decision:        "auto_approve",
				Reason:          "read access to shared resources is pre-approved",
			},
			{
				ResourcePattern: "*credentials*",
				MaxLevel:        "admin",
				Decision:        "auto_deny",
				Reason:          "credential material is never shared automatically",
			},
		},
	}
}

// Validate checks the configuration invariants. A malformed config is the
// one process-fatal error class.
func (c *Config) Validate() error {
	t := c.Thresholds
	if t.FlagThreshold < 0 || t.FlagThreshold > 1 || t.BlockThreshold < 0 || t.BlockThreshold > 1 {
		return fmt.Errorf("%w: thresholds must lie in [0,1], got flag=%v block=%v",
			model.ErrPolicyConfig, t.FlagThreshold, t.BlockThreshold)
	}
	if t.FlagThreshold >= t.BlockThreshold {
		return fmt.Errorf("%w: flag_threshold %v must be below block_threshold %v",
			model.ErrPolicyConfig, t.FlagThreshold, t.BlockThreshold)
	}
	for i, r := range c.AccessRules {
		switch r.Decision {
		case "auto_approve", "auto_deny":
		default:
			return fmt.Errorf("%w: rule %d has unknown decision %q", model.ErrPolicyConfig, i, r.Decision)
		}
		if !model.PermissionLevel(r.MaxLevel).Valid() {
			return fmt.Errorf("%w: rule %d has unknown max_level %q", model.ErrPolicyConfig, i, r.MaxLevel)
		}
	}
	return nil
}

// LoadConfig loads policy configuration from a YAML file. Empty path or a
// missing file returns defaults; specified fields overlay the defaults.
// The returned config is always validated.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns the SHA-256 of
// the raw YAML bytes, for audit records. Defaults hash to sha256 of empty
// input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	cfg := DefaultConfig()

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, "", fmt.Errorf("failed to read policy config: %w", err)
			}
			data = nil
		}
	}

	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse policy config: %w", err)
		}
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// matchRule checks whether a rule covers the requested scope: the resource
// must match the pattern and the requested level must not exceed MaxLevel.
func matchRule(rule AccessRule, scope model.Scope) bool {
	if scope.Level.Rank() > model.PermissionLevel(rule.MaxLevel).Rank() {
		return false
	}
	return identity.MatchPattern(rule.ResourcePattern, scope.Resource)
}

// DefaultConfigYAML returns a commented starter policy for init-policy.
func DefaultConfigYAML() string {
	return strings.TrimLeft(`
# advocate policy configuration
# Generated by: advocated init-policy
#
# Screening thresholds (strict > semantics):
#   score >  block_threshold -> block
#   score >  flag_threshold  -> flag
#   otherwise                -> allow
# A score exactly equal to a threshold takes the lower-severity outcome.
thresholds:
  flag_threshold: 0.5
  block_threshold: 0.8

# Access predicates matched against the requested capability scope.
# First match within each decision category applies; when both an
# auto_approve and an auto_deny rule match, auto_deny wins.
# Requests matching no rule escalate to the human principal.
access_rules:
  - resource_pattern: "/shared/*"
    max_level: read
    decision: auto_approve
    reason: "read access to shared resources is pre-approved"
  - resource_pattern: "*credentials*"
    max_level: admin
    decision: auto_deny
    reason: "credential material is never shared automatically"
`, "\n")
}
