package threat

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds per-signal weights. Weights are additive contributions to
// the final score; the aggregate is clipped to [0,1]. A weight of 0
// disables a signal.
type Config struct {
	Weights map[string]float64 `yaml:"weights"`
}

// DefaultConfig returns the built-in signal weights.
func DefaultConfig() *Config {
	return &Config{
		Weights: map[string]float64{
			ReasonSolicitation:      0.45,
			ReasonCapabilityRequest: 0.50,
			ReasonSuspiciousAttach:  0.40,
			ReasonExcessiveLinks:    0.20,
			ReasonUrgencyPressure:   0.25,
		},
	}
}

// LoadConfig loads scorer weights from a YAML file. A missing file returns
// defaults; specified weights overlay the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read threat config: %w", err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse threat config: %w", err)
	}
	for code, w := range overlay.Weights {
		if w < 0 {
			return nil, fmt.Errorf("negative weight %v for signal %q", w, code)
		}
		cfg.Weights[code] = w
	}
	return cfg, nil
}

func (c *Config) weightFor(code string) float64 {
	return c.Weights[code]
}
