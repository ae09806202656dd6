// Package negotiation drives the capability negotiation state machine
// between two advocates. Each access request gets its own session keyed by
// correlation id; sessions are independent and never block each other.
package negotiation

import (
	"fmt"
	"sync"
	"time"

	"github.com/skworld/advocate/internal/model"
)

// State names a position in the negotiation lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StateRequestSent    State = "request_sent"
	StateAwaitingPolicy State = "awaiting_policy_decision"
	StateAutoApproved   State = "auto_approved"
	StateAutoDenied     State = "auto_denied"
	StateEscalated      State = "escalated"
	StateTokenIssued    State = "token_issued"
	StateDenied         State = "denied"
	StateClosed         State = "closed"
)

// validTransitions enumerates every legal state change. Anything else is
// a protocol violation.
var validTransitions = map[State][]State{
	StateIdle:           {StateRequestSent, StateClosed},
	StateRequestSent:    {StateAwaitingPolicy, StateClosed},
	StateAwaitingPolicy: {StateAutoApproved, StateAutoDenied, StateEscalated, StateClosed},
	StateAutoApproved:   {StateTokenIssued, StateDenied, StateClosed},
	StateAutoDenied:     {StateDenied, StateClosed},
	StateEscalated:      {StateTokenIssued, StateDenied, StateClosed},
	StateTokenIssued:    {StateClosed},
	StateDenied:         {StateClosed},
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed
}

// Resolution is the human principal's answer to an escalated request.
// Scope may narrow the requested grant but never widen it.
type Resolution struct {
	Approved bool          `json:"approved"`
	Scope    model.Scope   `json:"scope"`
	TTL      time.Duration `json:"ttl"`
	Reason   string        `json:"reason"`
}

// Session tracks a single negotiation.
type Session struct {
	mu       sync.Mutex
	req      model.AccessRequest
	state    State
	resolved chan Resolution
	opened   time.Time
	closed   time.Time
}

func newSession(req model.AccessRequest) *Session {
	return &Session{
		req:      req,
		state:    StateIdle,
		resolved: make(chan Resolution, 1),
		opened:   time.Now().UTC(),
	}
}

// Request returns the access request this session negotiates.
func (s *Session) Request() model.AccessRequest {
	return s.req
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the session to next, rejecting illegal changes.
func (s *Session) transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range validTransitions[s.state] {
		if allowed == next {
			s.state = next
			if next == StateClosed {
				s.closed = time.Now().UTC()
			}
			return nil
		}
	}
	return fmt.Errorf("illegal negotiation transition %s -> %s (correlation %s)",
		s.state, next, s.req.CorrelationID)
}

// closedSince reports whether the session closed before cutoff.
func (s *Session) closedSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosed && s.closed.Before(cutoff)
}
