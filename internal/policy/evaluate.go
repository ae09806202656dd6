package policy

import (
	"fmt"
	"strings"

	"github.com/skworld/advocate/internal/model"
)

// Engine applies a validated Config to screening and access decisions.
type Engine struct {
	cfg *Config
}

// NewEngine creates an Engine. The config must have passed Validate;
// a nil config uses defaults.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Thresholds exposes the active screening thresholds.
func (e *Engine) Thresholds() Thresholds {
	return e.cfg.Thresholds
}

// EvaluateScreening classifies a threat assessment.
//
// Boundary convention (must not change): a score exactly equal to a
// threshold is NOT above it, so equality classifies as the lower-severity
// outcome.
func (e *Engine) EvaluateScreening(a model.ThreatAssessment) model.ScreenResult {
	t := e.cfg.Thresholds
	switch {
	case a.Score > t.BlockThreshold:
		return model.ScreenResult{
			Action: model.ScreenBlock,
			Reason: reasonSummary("score above block threshold", a),
		}
	case a.Score > t.FlagThreshold:
		return model.ScreenResult{
			Action: model.ScreenFlag,
			Reason: reasonSummary("score above flag threshold", a),
		}
	default:
		return model.ScreenResult{Action: model.ScreenAllow}
	}
}

// EvaluateAccess classifies an access request against the predicate rules.
//
// At most one decision category applies: when both an auto_approve and an
// auto_deny rule match the requested scope, auto_deny takes precedence
// (fail-safe default). Requests matching no rule escalate.
func (e *Engine) EvaluateAccess(req model.AccessRequest) model.AccessDecision {
	var approve *AccessRule
	var deny *AccessRule

	for i := range e.cfg.AccessRules {
		rule := &e.cfg.AccessRules[i]
		if !matchRule(*rule, req.Scope) {
			continue
		}
		switch rule.Decision {
		case "auto_deny":
			if deny == nil {
				deny = rule
			}
		case "auto_approve":
			if approve == nil {
				approve = rule
			}
		}
	}

	if deny != nil {
		return model.AccessDecision{
			Action: model.AccessAutoDeny,
			Reason: deny.Reason,
		}
	}
	if approve != nil {
		// Auto-approval grants exactly the requested scope, never wider.
		return model.AccessDecision{
			Action: model.AccessAutoApprove,
			Scope:  req.Scope,
			Reason: approve.Reason,
		}
	}
	return model.AccessDecision{Action: model.AccessEscalate}
}

func reasonSummary(prefix string, a model.ThreatAssessment) string {
	if len(a.Reasons) == 0 {
		return fmt.Sprintf("%s (%.2f)", prefix, a.Score)
	}
	return fmt.Sprintf("%s (%.2f): %s", prefix, a.Score, strings.Join(a.Reasons, ", "))
}
