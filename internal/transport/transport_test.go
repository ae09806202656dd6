package transport

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/skworld/advocate/internal/model"
)

func sampleEnvelope(recipient string) model.Envelope {
	return model.Envelope{
		Sender:    "capauth:alice@skworld.io",
		Recipient: recipient,
		Payload:   []byte("sealed bytes"),
		Signature: []byte("sig"),
		CreatedAt: time.Now().UTC(),
	}
}

func TestMaildropSendAndRead(t *testing.T) {
	md, err := NewMaildrop(t.TempDir())
	if err != nil {
		t.Fatalf("NewMaildrop: %v", err)
	}

	env := sampleEnvelope("capauth:bob@skworld.io")
	if err := md.Send(context.Background(), env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	inbox := md.Inbox("capauth:bob@skworld.io")
	entries, err := os.ReadDir(inbox)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("inbox has %d files, want 1", len(entries))
	}

	got, err := ReadEnvelope(filepath.Join(inbox, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if got.Sender != env.Sender || string(got.Payload) != string(env.Payload) {
		t.Errorf("round-trip mismatch: %+v", got)
	}

	if err := Consume(filepath.Join(inbox, entries[0].Name())); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	entries, _ = os.ReadDir(inbox)
	if len(entries) != 0 {
		t.Errorf("inbox not empty after consume")
	}
}

func TestMaildropRejectsMissingRecipient(t *testing.T) {
	md, err := NewMaildrop(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := md.Send(context.Background(), sampleEnvelope("")); err == nil {
		t.Error("envelope without recipient accepted")
	}
}

func TestMailboxNameFlattening(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"capauth:bob@skworld.io", "bob@skworld.io"},
		{"capauth:weird/../name", "weird_.._name"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := mailboxName(tt.uri); got != tt.want {
			t.Errorf("mailboxName(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestInboxWatcherSeesNewEnvelopes(t *testing.T) {
	md, err := NewMaildrop(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	inbox := md.Inbox("capauth:bob@skworld.io")

	var mu sync.Mutex
	got := make(map[string]bool)
	w := NewInboxWatcher(inbox, func(path string) {
		mu.Lock()
		got[filepath.Base(path)] = true
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)

	for range 3 {
		if err := md.Send(context.Background(), sampleEnvelope("capauth:bob@skworld.io")); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	n := len(got)
	mu.Unlock()
	if n != 3 {
		t.Errorf("watcher saw %d envelopes, want 3", n)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestInboxWatcherPicksUpBacklog(t *testing.T) {
	md, err := NewMaildrop(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	// Envelope delivered before the watcher starts.
	if err := md.Send(context.Background(), sampleEnvelope("capauth:bob@skworld.io")); err != nil {
		t.Fatal(err)
	}

	seen := make(chan string, 1)
	w := NewInboxWatcher(md.Inbox("capauth:bob@skworld.io"), func(path string) {
		select {
		case seen <- path:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case <-seen:
	case <-time.After(3 * time.Second):
		t.Fatal("backlog envelope never processed")
	}
}

func TestPollWatcherSeesEnvelopes(t *testing.T) {
	md, err := NewMaildrop(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := md.Send(context.Background(), sampleEnvelope("capauth:bob@skworld.io")); err != nil {
		t.Fatal(err)
	}

	seen := make(chan string, 4)
	w := NewPollWatcher(md.Inbox("capauth:bob@skworld.io"), func(path string) {
		seen <- path
	}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("poll watcher never fired")
	}

	// The same file must not be handled twice.
	select {
	case path := <-seen:
		t.Errorf("duplicate handling of %s", path)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSenderLimiter(t *testing.T) {
	l := NewSenderLimiter(1, 2)

	if !l.Allow("capauth:peer@skworld.io") || !l.Allow("capauth:peer@skworld.io") {
		t.Fatal("burst refused")
	}
	if l.Allow("capauth:peer@skworld.io") {
		t.Error("third immediate envelope allowed past burst")
	}
	if err := l.Check("capauth:peer@skworld.io"); err == nil {
		t.Error("Check did not report the rejection")
	}

	// Independent senders have independent budgets.
	if !l.Allow("capauth:other@skworld.io") {
		t.Error("fresh sender rejected")
	}
}
