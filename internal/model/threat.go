package model

import "time"

// ThreatAssessment is a scored, reasoned evaluation of an inbound message.
// Immutable once produced; recomputed fresh per message, never mutated.
type ThreatAssessment struct {
	MessageID  string    `json:"message_id"`
	Score      float64   `json:"score"` // in [0,1]
	Reasons    []string  `json:"reasons,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}

// ScreenAction is the screening outcome kind.
type ScreenAction string

const (
	ScreenAllow ScreenAction = "allow"
	ScreenFlag  ScreenAction = "flag"
	ScreenBlock ScreenAction = "block"
)

// ScreenResult is the tagged outcome of screening an inbound message.
// Reason is empty for Allow.
type ScreenResult struct {
	Action ScreenAction `json:"action"`
	Reason string       `json:"reason,omitempty"`
}

// Allowed reports whether the message may be delivered (Allow or Flag).
func (r ScreenResult) Allowed() bool {
	return r.Action != ScreenBlock
}

// AccessAction is the access-evaluation outcome kind.
type AccessAction string

const (
	AccessAutoApprove AccessAction = "auto_approve"
	AccessAutoDeny    AccessAction = "auto_deny"
	AccessEscalate    AccessAction = "escalate"
)

// AccessDecision is the tagged outcome of evaluating an AccessRequest.
// Scope is set only for AutoApprove and never exceeds the requested scope.
type AccessDecision struct {
	Action AccessAction `json:"action"`
	Scope  Scope        `json:"scope,omitempty"`
	Reason string       `json:"reason,omitempty"`
}
