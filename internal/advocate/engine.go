// Package advocate composes the envelope codec, threat scorer, policy
// engine, negotiation manager and token issuer into the agent that screens
// inbound traffic and negotiates capabilities on behalf of one human
// principal.
package advocate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/skworld/advocate/internal/alert"
	"github.com/skworld/advocate/internal/approval"
	"github.com/skworld/advocate/internal/audit"
	"github.com/skworld/advocate/internal/envelope"
	"github.com/skworld/advocate/internal/model"
	"github.com/skworld/advocate/internal/negotiation"
	"github.com/skworld/advocate/internal/policy"
	"github.com/skworld/advocate/internal/redact"
	"github.com/skworld/advocate/internal/threat"
	"github.com/skworld/advocate/internal/token"
)

// Notifier delivers an outbound envelope to a peer. Implementations must
// be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, env model.Envelope) error
}

// ScreenOutcome is the result of processing one inbound envelope.
type ScreenOutcome struct {
	Message   *model.ChatMessage
	Result    model.ScreenResult
	Score     model.ThreatAssessment
	Duplicate bool
}

// Engine is the advocate core.
type Engine struct {
	owner      string
	codec      *envelope.Codec
	scorer     *threat.Scorer
	policy     *policy.Engine
	policyHash string
	sessions   *negotiation.Manager
	issuer     *token.Issuer
	dedup      *DedupStore
	approvals  *approval.Store
	auditLog   *audit.Log
	alerts     *alert.Dispatcher
	notifier   Notifier
	log        zerolog.Logger
}

// Options wires an Engine. Owner, Codec, Scorer, Policy, Sessions, Issuer
// and Dedup are required; the rest degrade gracefully when nil.
type Options struct {
	Owner      string
	Codec      *envelope.Codec
	Scorer     *threat.Scorer
	Policy     *policy.Engine
	PolicyHash string
	Sessions   *negotiation.Manager
	Issuer     *token.Issuer
	Dedup      *DedupStore
	Approvals  *approval.Store
	AuditLog   *audit.Log
	Alerts     *alert.Dispatcher
	Notifier   Notifier
	Log        zerolog.Logger
}

// New assembles an Engine and hooks escalation persistence into the
// negotiation manager.
func New(opts Options) (*Engine, error) {
	if opts.Owner == "" {
		return nil, fmt.Errorf("advocate: owner identity required")
	}
	if opts.Codec == nil || opts.Scorer == nil || opts.Policy == nil ||
		opts.Sessions == nil || opts.Issuer == nil || opts.Dedup == nil {
		return nil, fmt.Errorf("advocate: codec, scorer, policy, sessions, issuer and dedup are all required")
	}

	e := &Engine{
		owner:      opts.Owner,
		codec:      opts.Codec,
		scorer:     opts.Scorer,
		policy:     opts.Policy,
		policyHash: opts.PolicyHash,
		sessions:   opts.Sessions,
		issuer:     opts.Issuer,
		dedup:      opts.Dedup,
		approvals:  opts.Approvals,
		auditLog:   opts.AuditLog,
		alerts:     opts.Alerts,
		notifier:   opts.Notifier,
		log:        opts.Log,
	}

	e.sessions.OnEscalate(func(req model.AccessRequest, deadline time.Time) {
		if e.approvals != nil {
			err := e.approvals.Request(req.CorrelationID, req.Requester,
				req.Scope.Resource, string(req.Scope.Level), req.Justification, deadline)
			if err != nil {
				e.log.Error().Err(err).
					Str("correlation_id", req.CorrelationID).
					Msg("cannot persist escalation")
			}
		}
		e.dispatchAlert(alert.Event{
			Type:          audit.EventAccess,
			CorrelationID: req.CorrelationID,
			Peer:          req.Requester,
			Resource:      req.Scope.Resource,
			Decision:      string(model.AccessEscalate),
			Reason:        req.Justification,
		})
	})

	return e, nil
}

// ScreenIncoming decrypts, verifies, scores and classifies one inbound
// envelope. The message is returned only when the classification is allow
// or flag; blocked messages return ErrMessageBlocked. Redelivered
// envelopes replay the recorded outcome without rescoring and without
// surfacing the message a second time.
func (e *Engine) ScreenIncoming(ctx context.Context, env model.Envelope) (*ScreenOutcome, error) {
	if envelope.Expired(env, time.Now().UTC()) {
		e.record(audit.Entry{
			Event:    audit.EventRejected,
			Peer:     env.Sender,
			Decision: "expired",
			Reason:   "envelope past its ttl",
		})
		return nil, fmt.Errorf("envelope from %s past its ttl", env.Sender)
	}

	msg, err := e.codec.Decode(env)
	if err != nil {
		e.record(audit.Entry{
			Event:    audit.EventRejected,
			Peer:     env.Sender,
			Decision: "rejected",
			Reason:   err.Error(),
		})
		e.log.Warn().Err(err).Str("sender", env.Sender).Msg("inbound envelope rejected")
		return nil, err
	}

	if prior, err := e.dedup.Seen(msg.ID); err != nil {
		return nil, err
	} else if prior != nil {
		// The message was already surfaced (or blocked) on first
		// delivery; a replay never hands it to the agent again.
		out := &ScreenOutcome{Result: *prior, Duplicate: true}
		if !prior.Allowed() {
			return out, fmt.Errorf("%w: %s", model.ErrMessageBlocked, prior.Reason)
		}
		return out, nil
	}

	if msg.IsExpired(time.Now().UTC()) {
		e.record(audit.Entry{
			Event:     audit.EventRejected,
			Peer:      env.Sender,
			MessageID: msg.ID,
			Decision:  "expired",
			Reason:    "ephemeral message past its ttl",
		})
		return nil, fmt.Errorf("message %s past its ttl", msg.ID)
	}

	assessment := e.scorer.Analyze(msg)
	result := e.policy.EvaluateScreening(assessment)

	if err := e.dedup.Record(msg.ID, result); err != nil {
		return nil, err
	}
	e.record(audit.Entry{
		Event:     audit.EventScreen,
		Peer:      msg.Sender,
		MessageID: msg.ID,
		Decision:  string(result.Action),
		Reason:    result.Reason,
		Score:     assessment.Score,
	})

	switch result.Action {
	case model.ScreenBlock:
		e.dispatchAlert(alert.Event{
			Type:     audit.EventScreen,
			Peer:     msg.Sender,
			Decision: string(model.ScreenBlock),
			Reason:   result.Reason,
			Score:    assessment.Score,
		})
		e.log.Warn().
			Str("sender", msg.Sender).
			Str("message_id", msg.ID).
			Float64("score", assessment.Score).
			Msg("message blocked")
		return &ScreenOutcome{Result: result, Score: assessment},
			fmt.Errorf("%w: %s", model.ErrMessageBlocked, result.Reason)

	case model.ScreenFlag:
		e.dispatchAlert(alert.Event{
			Type:     audit.EventScreen,
			Peer:     msg.Sender,
			Decision: string(model.ScreenFlag),
			Reason:   result.Reason,
			Score:    assessment.Score,
		})
		e.log.Info().
			Str("sender", msg.Sender).
			Str("message_id", msg.ID).
			Float64("score", assessment.Score).
			Msg("message flagged for review")
	}

	return &ScreenOutcome{Message: &msg, Result: result, Score: assessment}, nil
}

// ComposeOutbound validates, encrypts and signs a message from the owner.
// Secret material in the content is masked before sealing.
func (e *Engine) ComposeOutbound(msg model.ChatMessage) (model.Envelope, error) {
	if msg.Sender == "" {
		msg.Sender = e.owner
	}
	if cleaned, found := redact.Apply(msg.Content); len(found) > 0 {
		msg.Content = cleaned
		e.log.Warn().
			Str("recipient", msg.Recipient).
			Str("message_id", msg.ID).
			Int("secrets", len(found)).
			Msg("outbound secrets redacted")
	}
	return e.codec.Encode(msg)
}

// SendMessage composes an envelope and hands it to the transport.
func (e *Engine) SendMessage(ctx context.Context, msg model.ChatMessage) (model.Envelope, error) {
	env, err := e.ComposeOutbound(msg)
	if err != nil {
		return model.Envelope{}, err
	}
	if e.notifier == nil {
		return env, nil
	}
	if err := e.notifier.Send(ctx, env); err != nil {
		return model.Envelope{}, fmt.Errorf("send to %s: %w", msg.Recipient, err)
	}
	return env, nil
}

// NegotiateAccess runs a capability negotiation end to end: policy
// decision, escalation when needed, token issuance on approval. Denials,
// including unanswered escalations, return ErrAccessDenied.
func (e *Engine) NegotiateAccess(ctx context.Context, req model.AccessRequest) (*model.CapabilityToken, error) {
	out, err := e.sessions.Negotiate(ctx, req)
	if err != nil {
		// A caller that walks away mid-escalation leaves a pending
		// approval record behind; retire it.
		if ctx.Err() != nil && e.approvals != nil {
			if xerr := e.approvals.Expire(req.CorrelationID); xerr != nil {
				e.log.Error().Err(xerr).
					Str("correlation_id", req.CorrelationID).
					Msg("cannot expire approval")
			}
		}
		return nil, err
	}

	if !out.Approved {
		e.record(audit.Entry{
			Event:         audit.EventAccess,
			CorrelationID: req.CorrelationID,
			Peer:          req.Requester,
			Resource:      req.Scope.Resource,
			Level:         string(req.Scope.Level),
			Decision:      "denied",
			Reason:        out.Reason,
		})
		if out.TimedOut && e.approvals != nil {
			if err := e.approvals.Expire(req.CorrelationID); err != nil {
				e.log.Error().Err(err).Msg("cannot expire approval")
			}
		}
		e.dispatchAlert(alert.Event{
			Type:          audit.EventAccess,
			CorrelationID: req.CorrelationID,
			Peer:          req.Requester,
			Resource:      req.Scope.Resource,
			Decision:      "denied",
			Reason:        out.Reason,
		})
		return nil, fmt.Errorf("%w: %s", model.ErrAccessDenied, out.Reason)
	}

	tok, err := e.issuer.Issue(ctx, req.Requester, out.Scope, out.TTL)
	if err != nil {
		if cerr := e.sessions.Conclude(req.CorrelationID, false); cerr != nil {
			e.log.Error().Err(cerr).Msg("cannot conclude session")
		}
		return nil, fmt.Errorf("issue token: %w", err)
	}
	if err := e.sessions.Conclude(req.CorrelationID, true); err != nil {
		e.log.Error().Err(err).Msg("cannot conclude session")
	}

	e.record(audit.Entry{
		Event:         audit.EventTokenIssued,
		CorrelationID: req.CorrelationID,
		Peer:          req.Requester,
		Resource:      tok.Scope.Resource,
		Level:         string(tok.Scope.Level),
		Decision:      "issued",
		Reason:        out.Reason,
		TokenID:       tok.ID,
	})

	// Notification is best effort and never delays the grant.
	e.dispatchAlert(alert.Event{
		Type:          audit.EventTokenIssued,
		CorrelationID: req.CorrelationID,
		Peer:          req.Requester,
		Resource:      tok.Scope.Resource,
		Decision:      "issued",
		Reason:        out.Reason,
	})
	if e.notifier != nil {
		go e.notifyGrant(req, tok)
	}
	return tok, nil
}

// ResolveEscalation feeds the principal's answer into both the live
// negotiation session and the pending approval record.
func (e *Engine) ResolveEscalation(correlationID string, res negotiation.Resolution) error {
	if err := e.sessions.Resolve(correlationID, res); err != nil {
		return err
	}
	if e.approvals != nil {
		if err := e.approvals.Resolve(correlationID, res.Approved, res.Reason); err != nil {
			e.log.Error().Err(err).
				Str("correlation_id", correlationID).
				Msg("cannot persist resolution")
		}
	}
	return nil
}

// Sweep drops negotiation sessions closed long enough to be forgotten.
func (e *Engine) Sweep() int {
	return e.sessions.Sweep()
}

// PendingEscalations lists requests awaiting the principal.
func (e *Engine) PendingEscalations() []model.AccessRequest {
	return e.sessions.Pending()
}

// ValidateToken checks a presented token id against a requested use.
func (e *Engine) ValidateToken(ctx context.Context, id string, want model.Scope) (*model.CapabilityToken, error) {
	return e.issuer.Validate(ctx, id, want)
}

// ActiveTokens lists live tokens.
func (e *Engine) ActiveTokens(ctx context.Context) ([]*model.CapabilityToken, error) {
	return e.issuer.Active(ctx)
}

// RevokeToken permanently invalidates a token.
func (e *Engine) RevokeToken(ctx context.Context, id string) error {
	if err := e.issuer.Revoke(ctx, id); err != nil {
		return err
	}
	e.record(audit.Entry{
		Event:    audit.EventTokenRevoked,
		Peer:     e.owner,
		Decision: "revoked",
		TokenID:  id,
	})
	e.dispatchAlert(alert.Event{
		Type:     audit.EventTokenRevoked,
		Peer:     e.owner,
		Decision: "revoked",
		Reason:   id,
	})
	return nil
}

// notifyGrant tells the requester their capability was granted.
func (e *Engine) notifyGrant(req model.AccessRequest, tok *model.CapabilityToken) {
	msg := model.NewChatMessage(e.owner, req.Requester,
		fmt.Sprintf("access granted: %s until %s (token %s)",
			tok.Scope, tok.ExpiresAt.Format(time.RFC3339), tok.ID))
	msg.Metadata = map[string]any{"token_id": tok.ID, "correlation_id": req.CorrelationID}

	env, err := e.codec.Encode(msg)
	if err != nil {
		e.log.Error().Err(err).Msg("cannot encode grant notice")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.notifier.Send(ctx, env); err != nil {
		e.log.Warn().Err(err).
			Str("requester", req.Requester).
			Msg("grant notice undelivered")
	}
}

func (e *Engine) record(entry audit.Entry) {
	if e.auditLog == nil {
		return
	}
	entry.PolicyHash = e.policyHash
	if err := e.auditLog.Record(entry); err != nil {
		e.log.Error().Err(err).Msg("audit write failed")
	}
}

func (e *Engine) dispatchAlert(event alert.Event) {
	if e.alerts == nil {
		return
	}
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	event.PolicyHash = e.policyHash
	e.alerts.Dispatch(event)
}
