package advocate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/skworld/advocate/internal/alert"
	"github.com/skworld/advocate/internal/approval"
	"github.com/skworld/advocate/internal/audit"
	"github.com/skworld/advocate/internal/envelope"
	"github.com/skworld/advocate/internal/identity"
	"github.com/skworld/advocate/internal/model"
	"github.com/skworld/advocate/internal/negotiation"
	"github.com/skworld/advocate/internal/policy"
	"github.com/skworld/advocate/internal/threat"
	"github.com/skworld/advocate/internal/token"
)

const (
	ownerURI = "capauth:owner@skworld.io"
	peerURI  = "capauth:peer@skworld.io"
)

// captureNotifier records envelopes handed to the transport.
type captureNotifier struct {
	mu   sync.Mutex
	sent []model.Envelope
}

func (c *captureNotifier) Send(_ context.Context, env model.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fixture struct {
	engine    *Engine
	peerCodec *envelope.Codec
	notifier  *captureNotifier
	approvals *approval.Store
	auditPath string
}

func newFixture(t *testing.T, escalationTimeout time.Duration) *fixture {
	return newFixtureWithAlerts(t, escalationTimeout, nil)
}

func newFixtureWithAlerts(t *testing.T, escalationTimeout time.Duration, alerts *alert.Dispatcher) *fixture {
	t.Helper()
	dir := t.TempDir()

	owner, err := identity.GenerateKeyring(ownerURI)
	if err != nil {
		t.Fatal(err)
	}
	peer, err := identity.GenerateKeyring(peerURI)
	if err != nil {
		t.Fatal(err)
	}
	reg := identity.NewRegistry(nil)
	reg.Register(ownerURI, owner.SigningPublic(), owner.BoxPublic)
	reg.Register(peerURI, peer.SigningPublic(), peer.BoxPublic)

	engine, err := policy.NewEngine(nil)
	if err != nil {
		t.Fatal(err)
	}

	ledger, err := token.OpenLedger(filepath.Join(dir, "tokens.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })

	dedup, err := OpenDedup(filepath.Join(dir, "dedup"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dedup.Close() })

	approvals, err := approval.NewStore(filepath.Join(dir, "pending"))
	if err != nil {
		t.Fatal(err)
	}

	auditPath := filepath.Join(dir, "audit.jsonl")
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { auditLog.Close() })

	notifier := &captureNotifier{}
	adv, err := New(Options{
		Owner:      ownerURI,
		Codec:      envelope.NewCodec(owner, reg),
		Scorer:     threat.NewScorer(nil),
		Policy:     engine,
		PolicyHash: "sha256:test",
		Sessions:   negotiation.NewManager(engine, escalationTimeout, zerolog.Nop()),
		Issuer:     token.NewIssuer(owner, ledger),
		Dedup:      dedup,
		Approvals:  approvals,
		AuditLog:   auditLog,
		Alerts:     alerts,
		Notifier:   notifier,
		Log:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &fixture{
		engine:    adv,
		peerCodec: envelope.NewCodec(peer, reg),
		notifier:  notifier,
		approvals: approvals,
		auditPath: auditPath,
	}
}

func (f *fixture) inbound(t *testing.T, content string) model.Envelope {
	t.Helper()
	msg := model.NewChatMessage(peerURI, ownerURI, content)
	env, err := f.peerCodec.Encode(msg)
	if err != nil {
		t.Fatalf("peer encode: %v", err)
	}
	return env
}

func TestScreenIncomingBenignAllowed(t *testing.T) {
	f := newFixture(t, time.Second)

	out, err := f.engine.ScreenIncoming(context.Background(),
		f.inbound(t, "lunch tomorrow at noon?"))
	if err != nil {
		t.Fatalf("ScreenIncoming: %v", err)
	}
	if out.Result.Action != model.ScreenAllow {
		t.Errorf("action = %s, want allow", out.Result.Action)
	}
	if out.Message == nil || out.Message.Content != "lunch tomorrow at noon?" {
		t.Errorf("message not delivered: %+v", out.Message)
	}
}

func TestScreenIncomingHostileBlocked(t *testing.T) {
	f := newFixture(t, time.Second)

	// Trips solicitation, capability request, urgency and link signals.
	content := "URGENT: act now! send me money and grant me admin access " +
		"http://a.example http://b.example http://c.example http://d.example"
	out, err := f.engine.ScreenIncoming(context.Background(), f.inbound(t, content))
	if !errors.Is(err, model.ErrMessageBlocked) {
		t.Fatalf("err = %v, want ErrMessageBlocked", err)
	}
	if out.Result.Action != model.ScreenBlock {
		t.Errorf("action = %s, want block", out.Result.Action)
	}
	if out.Message != nil {
		t.Error("blocked message leaked to caller")
	}

	entries, err := audit.Tail(f.auditPath, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Decision != "block" {
		t.Errorf("audit entries = %+v", entries)
	}
}

func TestScreenIncomingDuplicateReplaysOutcome(t *testing.T) {
	f := newFixture(t, time.Second)
	env := f.inbound(t, "hello again")

	first, err := f.engine.ScreenIncoming(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	if first.Duplicate {
		t.Fatal("first delivery marked duplicate")
	}

	second, err := f.engine.ScreenIncoming(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Duplicate {
		t.Fatal("redelivery not detected")
	}
	if second.Message != nil {
		t.Error("redelivery surfaced the message again")
	}
	if second.Result.Action != first.Result.Action {
		t.Errorf("redelivery outcome %s differs from original %s",
			second.Result.Action, first.Result.Action)
	}

	// Only the first delivery is audited.
	entries, err := audit.Tail(f.auditPath, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("audit entries = %d, want 1", len(entries))
	}
}

func TestScreenIncomingExpiredEnvelope(t *testing.T) {
	f := newFixture(t, time.Second)
	env := f.inbound(t, "too late")
	env.TTL = 60
	env.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)

	if _, err := f.engine.ScreenIncoming(context.Background(), env); err == nil {
		t.Fatal("expired envelope accepted")
	}
}

func TestScreenIncomingTamperedEnvelope(t *testing.T) {
	f := newFixture(t, time.Second)
	env := f.inbound(t, "integrity matters")
	env.Payload[len(env.Payload)/2] ^= 0x01

	_, err := f.engine.ScreenIncoming(context.Background(), env)
	if !errors.Is(err, model.ErrAuthenticity) && !errors.Is(err, model.ErrDecryption) {
		t.Fatalf("err = %v, want authenticity or decryption failure", err)
	}
}

func TestNegotiateAccessAutoApproveIssuesToken(t *testing.T) {
	f := newFixture(t, time.Second)

	req := model.NewAccessRequest(peerURI,
		model.Scope{Resource: "/shared/notes", Level: model.PermRead}, "reading", 24*time.Hour)
	tok, err := f.engine.NegotiateAccess(context.Background(), req)
	if err != nil {
		t.Fatalf("NegotiateAccess: %v", err)
	}
	if tok.Subject != peerURI || tok.Scope != req.Scope {
		t.Errorf("token = %+v", tok)
	}
	if got := tok.ExpiresAt.Sub(tok.IssuedAt); got != 24*time.Hour {
		t.Errorf("ttl = %v, want 24h", got)
	}

	if _, err := f.engine.ValidateToken(context.Background(), tok.ID, req.Scope); err != nil {
		t.Errorf("fresh token invalid: %v", err)
	}

	// Grant notice goes out asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for f.notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.notifier.count() != 1 {
		t.Errorf("grant notices sent = %d, want 1", f.notifier.count())
	}
}

func TestNegotiateAccessAutoDeny(t *testing.T) {
	f := newFixture(t, time.Second)

	req := model.NewAccessRequest(peerURI,
		model.Scope{Resource: "/vault/credentials.db", Level: model.PermRead}, "", 0)
	_, err := f.engine.NegotiateAccess(context.Background(), req)
	if !errors.Is(err, model.ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestNegotiateAccessAutoOutcomesAlertPrincipal(t *testing.T) {
	var mu sync.Mutex
	var decisions []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event alert.Event
		if err := json.NewDecoder(r.Body).Decode(&event); err == nil {
			mu.Lock()
			decisions = append(decisions, event.Decision)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixtureWithAlerts(t, time.Second, alert.NewDispatcher([]alert.Config{
		{URL: srv.URL, Format: "generic", Events: []string{"issued", "denied"}},
	}))

	approve := model.NewAccessRequest(peerURI,
		model.Scope{Resource: "/shared/notes", Level: model.PermRead}, "sync", time.Hour)
	if _, err := f.engine.NegotiateAccess(context.Background(), approve); err != nil {
		t.Fatalf("NegotiateAccess: %v", err)
	}

	deny := model.NewAccessRequest(peerURI,
		model.Scope{Resource: "/vault/credentials.db", Level: model.PermRead}, "", 0)
	if _, err := f.engine.NegotiateAccess(context.Background(), deny); !errors.Is(err, model.ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}

	seen := func() (issued, denied bool) {
		mu.Lock()
		defer mu.Unlock()
		for _, d := range decisions {
			issued = issued || d == "issued"
			denied = denied || d == "denied"
		}
		return
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if issued, denied := seen(); issued && denied {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	issued, denied := seen()
	t.Errorf("principal alerts: issued=%v denied=%v, want both", issued, denied)
}

func TestNegotiateAccessEscalationApproved(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	req := model.NewAccessRequest(peerURI,
		model.Scope{Resource: "/home/projects", Level: model.PermWrite}, "pair work", 0)

	type result struct {
		tok *model.CapabilityToken
		err error
	}
	done := make(chan result, 1)
	go func() {
		tok, err := f.engine.NegotiateAccess(context.Background(), req)
		done <- result{tok, err}
	}()

	waitForPending(t, f.engine, req.CorrelationID)

	err := f.engine.ResolveEscalation(req.CorrelationID, negotiation.Resolution{
		Approved: true,
		Scope:    model.Scope{Resource: "/home/projects", Level: model.PermRead},
		TTL:      time.Hour,
		Reason:   "read only for now",
	})
	if err != nil {
		t.Fatalf("ResolveEscalation: %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("NegotiateAccess: %v", res.err)
	}
	if res.tok.Scope.Level != model.PermRead {
		t.Errorf("granted level = %s, want the narrowed read", res.tok.Scope.Level)
	}
}

func TestNegotiateAccessCancelledExpiresApproval(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	req := model.NewAccessRequest(peerURI,
		model.Scope{Resource: "/home/projects", Level: model.PermWrite}, "pair work", 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.engine.NegotiateAccess(ctx, req)
		done <- err
	}()
	waitForPending(t, f.engine, req.CorrelationID)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	status, err := f.approvals.Check(req.CorrelationID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != approval.StatusExpired {
		t.Errorf("approval status = %s, want expired", status)
	}
}

func TestNegotiateAccessEscalationTimeout(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)

	req := model.NewAccessRequest(peerURI,
		model.Scope{Resource: "/home/projects", Level: model.PermWrite}, "", 0)
	_, err := f.engine.NegotiateAccess(context.Background(), req)
	if !errors.Is(err, model.ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied on timeout", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v, want timeout reason", err)
	}
}

func TestRevokeTokenAudited(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	req := model.NewAccessRequest(peerURI,
		model.Scope{Resource: "/shared/notes", Level: model.PermRead}, "", 0)
	tok, err := f.engine.NegotiateAccess(ctx, req)
	if err != nil {
		t.Fatal(err)
	}

	if err := f.engine.RevokeToken(ctx, tok.ID); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := f.engine.ValidateToken(ctx, tok.ID, req.Scope); !errors.Is(err, model.ErrTokenRevoked) {
		t.Errorf("err = %v, want ErrTokenRevoked", err)
	}

	result := audit.Verify(f.auditPath)
	if !result.Valid {
		t.Errorf("audit chain broken: %+v", result)
	}
}

func TestSendMessageDeliversEnvelope(t *testing.T) {
	f := newFixture(t, time.Second)

	msg := model.NewChatMessage(ownerURI, peerURI, "on my way")
	env, err := f.engine.SendMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if env.Recipient != peerURI {
		t.Errorf("recipient = %s", env.Recipient)
	}
	if f.notifier.count() != 1 {
		t.Errorf("envelopes sent = %d, want 1", f.notifier.count())
	}
}

func TestSendMessageRedactsSecrets(t *testing.T) {
	f := newFixture(t, time.Second)

	msg := model.NewChatMessage(ownerURI, peerURI, "deploy with password=hunter2")
	env, err := f.engine.SendMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	got, err := f.peerCodec.Decode(env)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if strings.Contains(got.Content, "hunter2") {
		t.Fatalf("secret left the advocate: %q", got.Content)
	}
	if !strings.Contains(got.Content, "[REDACTED:CRED]") {
		t.Fatalf("no redaction mask in %q", got.Content)
	}
}

func waitForPending(t *testing.T, e *Engine, correlationID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, req := range e.PendingEscalations() {
			if req.CorrelationID == correlationID {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("request %s never escalated", correlationID)
}
