package negotiation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skworld/advocate/internal/model"
	"github.com/skworld/advocate/internal/policy"
)

// DefaultEscalationTimeout bounds how long an escalated request waits for
// the human principal before denying.
const DefaultEscalationTimeout = 5 * time.Minute

// closedRetention is how long a closed session stays visible before GC.
const closedRetention = time.Hour

// Outcome is the final result of a negotiation.
type Outcome struct {
	CorrelationID string
	Approved      bool
	Scope         model.Scope
	TTL           time.Duration
	Reason        string
	Escalated     bool
	TimedOut      bool
}

// Manager runs negotiation sessions against the policy engine. One session
// per correlation id; concurrent sessions proceed independently.
type Manager struct {
	policy  *policy.Engine
	timeout time.Duration
	log     zerolog.Logger

	mu         sync.Mutex
	sessions   map[string]*Session
	onEscalate func(model.AccessRequest, time.Time)
}

// NewManager creates a Manager. A non-positive timeout uses the default.
func NewManager(engine *policy.Engine, timeout time.Duration, log zerolog.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultEscalationTimeout
	}
	return &Manager{
		policy:   engine,
		timeout:  timeout,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// OnEscalate registers a hook invoked when a request escalates, with the
// deadline by which the principal must answer. Set before first use.
func (m *Manager) OnEscalate(fn func(model.AccessRequest, time.Time)) {
	m.onEscalate = fn
}

// Negotiate runs the full state machine for one access request and blocks
// until a terminal decision. Escalated requests wait for Resolve up to the
// escalation timeout; an unanswered escalation is denied.
func (m *Manager) Negotiate(ctx context.Context, req model.AccessRequest) (Outcome, error) {
	s, err := m.open(req)
	if err != nil {
		return Outcome{}, err
	}

	if err := s.transition(StateRequestSent); err != nil {
		return Outcome{}, err
	}
	if err := s.transition(StateAwaitingPolicy); err != nil {
		return Outcome{}, err
	}

	decision := m.policy.EvaluateAccess(req)
	switch decision.Action {
	case model.AccessAutoApprove:
		if err := s.transition(StateAutoApproved); err != nil {
			return Outcome{}, err
		}
		m.log.Info().
			Str("correlation_id", req.CorrelationID).
			Str("scope", decision.Scope.String()).
			Msg("access auto-approved by policy")
		return Outcome{
			CorrelationID: req.CorrelationID,
			Approved:      true,
			Scope:         decision.Scope,
			TTL:           req.Expiry,
			Reason:        decision.Reason,
		}, nil

	case model.AccessAutoDeny:
		if err := s.transition(StateAutoDenied); err != nil {
			return Outcome{}, err
		}
		m.finish(s, StateDenied)
		m.log.Info().
			Str("correlation_id", req.CorrelationID).
			Str("reason", decision.Reason).
			Msg("access auto-denied by policy")
		return Outcome{
			CorrelationID: req.CorrelationID,
			Reason:        decision.Reason,
		}, nil

	default:
		if err := s.transition(StateEscalated); err != nil {
			return Outcome{}, err
		}
		if m.onEscalate != nil {
			m.onEscalate(req, time.Now().UTC().Add(m.timeout))
		}
		m.log.Info().
			Str("correlation_id", req.CorrelationID).
			Str("requester", req.Requester).
			Str("scope", req.Scope.String()).
			Msg("access escalated to principal")
		return m.awaitResolution(ctx, s)
	}
}

// awaitResolution parks an escalated session until the principal answers,
// the timeout fires, or the context is cancelled.
func (m *Manager) awaitResolution(ctx context.Context, s *Session) (Outcome, error) {
	req := s.Request()
	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case res := <-s.resolved:
		if !res.Approved {
			m.finish(s, StateDenied)
			return Outcome{
				CorrelationID: req.CorrelationID,
				Reason:        res.Reason,
				Escalated:     true,
			}, nil
		}
		return Outcome{
			CorrelationID: req.CorrelationID,
			Approved:      true,
			Scope:         res.Scope,
			TTL:           res.TTL,
			Reason:        res.Reason,
			Escalated:     true,
		}, nil

	case <-timer.C:
		m.finish(s, StateDenied)
		m.log.Warn().
			Str("correlation_id", req.CorrelationID).
			Dur("timeout", m.timeout).
			Msg("escalation unanswered, denying")
		return Outcome{
			CorrelationID: req.CorrelationID,
			Reason:        "escalation timed out",
			Escalated:     true,
			TimedOut:      true,
		}, nil

	case <-ctx.Done():
		// Cancellation is not a denial: the session closes directly.
		if err := s.transition(StateClosed); err != nil {
			m.log.Error().Err(err).
				Str("correlation_id", req.CorrelationID).
				Msg("cannot close cancelled session")
		}
		return Outcome{}, ctx.Err()
	}
}

// Resolve feeds the principal's decision into an escalated session. An
// approved scope must stay within the requested scope.
func (m *Manager) Resolve(correlationID string, res Resolution) error {
	m.mu.Lock()
	s, ok := m.sessions[correlationID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no negotiation session %q", correlationID)
	}
	if s.State() != StateEscalated {
		return fmt.Errorf("session %q is %s, not awaiting resolution", correlationID, s.State())
	}
	if res.Approved {
		if res.Scope == (model.Scope{}) {
			res.Scope = s.req.Scope
		}
		if !s.req.Scope.Subsumes(res.Scope) {
			return fmt.Errorf("approved scope %s exceeds requested %s", res.Scope, s.req.Scope)
		}
	}

	select {
	case s.resolved <- res:
		return nil
	default:
		return fmt.Errorf("session %q already resolved", correlationID)
	}
}

// Conclude records the post-decision outcome: token issued or denied.
// Approved sessions not yet concluded stay open so callers can report
// issuance failure as a denial.
func (m *Manager) Conclude(correlationID string, issued bool) error {
	m.mu.Lock()
	s, ok := m.sessions[correlationID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no negotiation session %q", correlationID)
	}

	next := StateDenied
	if issued {
		next = StateTokenIssued
	}
	if err := s.transition(next); err != nil {
		return err
	}
	return s.transition(StateClosed)
}

// Cancel aborts a session from any non-terminal state.
func (m *Manager) Cancel(correlationID string) error {
	m.mu.Lock()
	s, ok := m.sessions[correlationID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no negotiation session %q", correlationID)
	}
	if s.State() == StateClosed {
		return nil
	}
	return s.transition(StateClosed)
}

// Pending lists sessions waiting on the principal.
func (m *Manager) Pending() []model.AccessRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.AccessRequest
	for _, s := range m.sessions {
		if s.State() == StateEscalated {
			out = append(out, s.Request())
		}
	}
	return out
}

// Lookup returns the state of a session, if it exists.
func (m *Manager) Lookup(correlationID string) (State, bool) {
	m.mu.Lock()
	s, ok := m.sessions[correlationID]
	m.mu.Unlock()
	if !ok {
		return "", false
	}
	return s.State(), true
}

// Sweep drops sessions closed longer than the retention window. Returns
// the number removed.
func (m *Manager) Sweep() int {
	cutoff := time.Now().UTC().Add(-closedRetention)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.closedSince(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) open(req model.AccessRequest) (*Session, error) {
	if req.CorrelationID == "" {
		return nil, fmt.Errorf("access request has no correlation id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[req.CorrelationID]; exists {
		return nil, fmt.Errorf("negotiation %q already in progress", req.CorrelationID)
	}
	s := newSession(req)
	m.sessions[req.CorrelationID] = s
	return s, nil
}

// finish moves a session to a pre-terminal state and then closes it,
// logging rather than failing on bookkeeping errors.
func (m *Manager) finish(s *Session, state State) {
	if err := s.transition(state); err != nil {
		m.log.Error().Err(err).Msg("negotiation bookkeeping")
		return
	}
	if err := s.transition(StateClosed); err != nil {
		m.log.Error().Err(err).Msg("negotiation bookkeeping")
	}
}
