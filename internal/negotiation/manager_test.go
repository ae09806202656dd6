package negotiation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/skworld/advocate/internal/model"
	"github.com/skworld/advocate/internal/policy"
)

func testManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()
	engine, err := policy.NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return NewManager(engine, timeout, zerolog.Nop())
}

func TestNegotiateAutoApprove(t *testing.T) {
	m := testManager(t, time.Second)
	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/shared/notes", Level: model.PermRead}, "reading notes", time.Hour)

	out, err := m.Negotiate(context.Background(), req)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if !out.Approved || out.Escalated {
		t.Fatalf("outcome = %+v, want direct approval", out)
	}
	if out.Scope != req.Scope {
		t.Errorf("granted %v, want exactly requested %v", out.Scope, req.Scope)
	}
	if state, _ := m.Lookup(req.CorrelationID); state != StateAutoApproved {
		t.Errorf("session state = %s, want auto_approved pending conclusion", state)
	}

	if err := m.Conclude(req.CorrelationID, true); err != nil {
		t.Fatalf("Conclude: %v", err)
	}
	if state, _ := m.Lookup(req.CorrelationID); state != StateClosed {
		t.Errorf("session state after conclude = %s, want closed", state)
	}
}

func TestNegotiateAutoDeny(t *testing.T) {
	m := testManager(t, time.Second)
	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/vault/credentials.db", Level: model.PermRead}, "", 0)

	out, err := m.Negotiate(context.Background(), req)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if out.Approved {
		t.Fatal("credential request must not approve")
	}
	if state, _ := m.Lookup(req.CorrelationID); state != StateClosed {
		t.Errorf("denied session state = %s, want closed", state)
	}
}

func TestNegotiateEscalationApproved(t *testing.T) {
	m := testManager(t, 5*time.Second)
	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/home/projects", Level: model.PermWrite}, "collaboration", 0)

	done := make(chan Outcome, 1)
	go func() {
		out, err := m.Negotiate(context.Background(), req)
		if err != nil {
			t.Errorf("Negotiate: %v", err)
		}
		done <- out
	}()

	waitForState(t, m, req.CorrelationID, StateEscalated)

	if got := m.Pending(); len(got) != 1 || got[0].CorrelationID != req.CorrelationID {
		t.Fatalf("Pending() = %+v, want the escalated request", got)
	}

	narrowed := model.Scope{Resource: "/home/projects", Level: model.PermRead}
	err := m.Resolve(req.CorrelationID, Resolution{
		Approved: true, Scope: narrowed, TTL: time.Hour, Reason: "read only",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	out := <-done
	if !out.Approved || !out.Escalated {
		t.Fatalf("outcome = %+v, want escalated approval", out)
	}
	if out.Scope != narrowed {
		t.Errorf("granted %v, want the narrowed scope %v", out.Scope, narrowed)
	}
}

func TestNegotiateEscalationDenied(t *testing.T) {
	m := testManager(t, 5*time.Second)
	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/home/projects", Level: model.PermWrite}, "", 0)

	done := make(chan Outcome, 1)
	go func() {
		out, _ := m.Negotiate(context.Background(), req)
		done <- out
	}()

	waitForState(t, m, req.CorrelationID, StateEscalated)
	if err := m.Resolve(req.CorrelationID, Resolution{Approved: false, Reason: "not now"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	out := <-done
	if out.Approved {
		t.Fatal("denied escalation approved")
	}
	if out.Reason != "not now" {
		t.Errorf("reason = %q", out.Reason)
	}
	if state, _ := m.Lookup(req.CorrelationID); state != StateClosed {
		t.Errorf("state = %s, want closed", state)
	}
}

func TestEscalationTimeoutDenies(t *testing.T) {
	m := testManager(t, 30*time.Millisecond)
	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/home/projects", Level: model.PermWrite}, "", 0)

	out, err := m.Negotiate(context.Background(), req)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if out.Approved || !out.TimedOut {
		t.Fatalf("outcome = %+v, want timed-out denial", out)
	}
}

func TestResolveRejectsWidenedScope(t *testing.T) {
	m := testManager(t, 5*time.Second)
	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/home/projects", Level: model.PermRead}, "", 0)

	go m.Negotiate(context.Background(), req)
	waitForState(t, m, req.CorrelationID, StateEscalated)

	err := m.Resolve(req.CorrelationID, Resolution{
		Approved: true,
		Scope:    model.Scope{Resource: "/home/projects", Level: model.PermAdmin},
	})
	if err == nil {
		t.Fatal("widened approval accepted")
	}

	// Clean up the parked session.
	if err := m.Resolve(req.CorrelationID, Resolution{Approved: false}); err != nil {
		t.Fatal(err)
	}
}

func TestDuplicateCorrelationIDRejected(t *testing.T) {
	m := testManager(t, 5*time.Second)
	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/home/projects", Level: model.PermWrite}, "", 0)

	go m.Negotiate(context.Background(), req)
	waitForState(t, m, req.CorrelationID, StateEscalated)

	if _, err := m.Negotiate(context.Background(), req); err == nil {
		t.Fatal("duplicate correlation id accepted")
	}
	if err := m.Resolve(req.CorrelationID, Resolution{Approved: false}); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	m := testManager(t, 5*time.Second)

	reqA := model.NewAccessRequest("capauth:alice@skworld.io",
		model.Scope{Resource: "/home/a", Level: model.PermWrite}, "", 0)
	reqB := model.NewAccessRequest("capauth:bob@skworld.io",
		model.Scope{Resource: "/home/b", Level: model.PermWrite}, "", 0)

	var wg sync.WaitGroup
	outs := make(map[string]Outcome)
	var outMu sync.Mutex
	for _, req := range []model.AccessRequest{reqA, reqB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := m.Negotiate(context.Background(), req)
			if err != nil {
				t.Errorf("Negotiate(%s): %v", req.CorrelationID, err)
				return
			}
			outMu.Lock()
			outs[req.CorrelationID] = out
			outMu.Unlock()
		}()
	}

	waitForState(t, m, reqA.CorrelationID, StateEscalated)
	waitForState(t, m, reqB.CorrelationID, StateEscalated)

	// Resolving A must not disturb B.
	if err := m.Resolve(reqA.CorrelationID, Resolution{Approved: true}); err != nil {
		t.Fatal(err)
	}
	if state, _ := m.Lookup(reqB.CorrelationID); state != StateEscalated {
		t.Fatalf("session B state = %s after resolving A", state)
	}
	if err := m.Resolve(reqB.CorrelationID, Resolution{Approved: false}); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	if !outs[reqA.CorrelationID].Approved {
		t.Error("session A should be approved")
	}
	if outs[reqB.CorrelationID].Approved {
		t.Error("session B should be denied")
	}
}

func TestCancelFromEscalated(t *testing.T) {
	m := testManager(t, 5*time.Second)
	req := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/home/projects", Level: model.PermWrite}, "", 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Negotiate(ctx, req)
		done <- err
	}()
	waitForState(t, m, req.CorrelationID, StateEscalated)

	cancel()
	if err := <-done; err == nil {
		t.Fatal("cancelled negotiation returned no error")
	}
	if state, _ := m.Lookup(req.CorrelationID); state != StateClosed {
		t.Errorf("state = %s, want closed", state)
	}
}

func TestSweepRemovesOnlyClosedSessions(t *testing.T) {
	m := testManager(t, 5*time.Second)

	closedReq := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/vault/credentials.db", Level: model.PermRead}, "", 0)
	if _, err := m.Negotiate(context.Background(), closedReq); err != nil {
		t.Fatal(err)
	}

	openReq := model.NewAccessRequest("capauth:peer@skworld.io",
		model.Scope{Resource: "/home/projects", Level: model.PermWrite}, "", 0)
	go m.Negotiate(context.Background(), openReq)
	waitForState(t, m, openReq.CorrelationID, StateEscalated)

	// Backdate the closed session past retention.
	m.mu.Lock()
	m.sessions[closedReq.CorrelationID].closed = time.Now().Add(-2 * closedRetention)
	m.mu.Unlock()

	if got := m.Sweep(); got != 1 {
		t.Errorf("Sweep() = %d, want 1", got)
	}
	if _, ok := m.Lookup(openReq.CorrelationID); !ok {
		t.Error("open session swept")
	}
	if err := m.Resolve(openReq.CorrelationID, Resolution{Approved: false}); err != nil {
		t.Fatal(err)
	}
}

func waitForState(t *testing.T, m *Manager, id string, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state, ok := m.Lookup(id); ok && state == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session %s never reached %s", id, want)
}
