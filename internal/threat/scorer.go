// Package threat scores inbound messages for risk. Scoring is deterministic,
// explainable, and side-effect free: identical content and configuration
// always produce the identical assessment.
package threat

import (
	"time"

	"github.com/skworld/advocate/internal/model"
)

// Scorer evaluates messages against a fixed set of weighted signals.
type Scorer struct {
	cfg     *Config
	signals []signal
}

// NewScorer creates a Scorer. A nil config uses the built-in defaults.
func NewScorer(cfg *Config) *Scorer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg, signals: builtinSignals()}
}

// Analyze computes a fresh ThreatAssessment for the message.
//
// The score is the weighted sum of triggered signals clipped to [0,1].
// Aggregation is monotonic: a triggered signal never lowers the score.
// Reason codes are reported in signal declaration order.
func (s *Scorer) Analyze(msg model.ChatMessage) model.ThreatAssessment {
	score := 0.0
	var reasons []string

	for _, sig := range s.signals {
		weight := s.cfg.weightFor(sig.code)
		if weight <= 0 {
			continue
		}
		if sig.check(msg) {
			score += weight
			reasons = append(reasons, sig.code)
		}
	}

	if score > 1.0 {
		score = 1.0
	}

	return model.ThreatAssessment{
		MessageID:  msg.ID,
		Score:      score,
		Reasons:    reasons,
		ComputedAt: time.Now().UTC(),
	}
}
