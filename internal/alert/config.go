// Package alert fans out notable advocate events (blocked messages,
// escalations, denials) to webhook endpoints.
package alert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config defines a webhook alert destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["block", "flag", "escalate", "auto_deny"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp     string  `json:"timestamp"`
	Type          string  `json:"type"` // "screen", "access", "token_revoked"
	CorrelationID string  `json:"correlation_id,omitempty"`
	Peer          string  `json:"peer"`
	Resource      string  `json:"resource,omitempty"`
	Decision      string  `json:"decision"`
	Reason        string  `json:"reason"`
	Score         float64 `json:"score,omitempty"`
	PolicyHash    string  `json:"policy_hash"`
}

// LoadConfigs reads a YAML list of webhook destinations. A missing file
// means alerting is off.
func LoadConfigs(path string) ([]Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read alert config: %w", err)
	}
	var configs []Config
	if err := yaml.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("parse alert config: %w", err)
	}
	for i, c := range configs {
		if c.URL == "" {
			return nil, fmt.Errorf("alert config %d has no url", i)
		}
	}
	return configs, nil
}
