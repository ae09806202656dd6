package envelope

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/skworld/advocate/internal/identity"
	"github.com/skworld/advocate/internal/model"
)

const (
	aliceURI = "capauth:alice@skworld.io"
	bobURI   = "capauth:bob@skworld.io"
)

// testPair wires two codecs against a shared registry.
func testPair(t *testing.T) (sender, recipient *Codec) {
	sender, recipient, _ = testPairWithRegistry(t)
	return sender, recipient
}

func testPairWithRegistry(t *testing.T) (sender, recipient *Codec, reg *identity.Registry) {
	t.Helper()

	alice, err := identity.GenerateKeyring(aliceURI)
	if err != nil {
		t.Fatal(err)
	}
	bob, err := identity.GenerateKeyring(bobURI)
	if err != nil {
		t.Fatal(err)
	}

	reg = identity.NewRegistry(nil)
	reg.Register(aliceURI, alice.SigningPublic(), alice.BoxPublic)
	reg.Register(bobURI, bob.SigningPublic(), bob.BoxPublic)

	return NewCodec(alice, reg), NewCodec(bob, reg), reg
}

func sampleMessage() model.ChatMessage {
	msg := model.NewChatMessage(aliceURI, bobURI, "meet at the usual place")
	msg.ThreadID = "thread-7"
	msg.ReplyTo = "msg-42"
	msg.TTL = 3600
	msg.AddReaction("+1")
	msg.Metadata = map[string]any{
		"priority":        "high",
		"transport_hints": []string{"syncthing", "nostr"},
	}
	return msg
}

func TestRoundTrip(t *testing.T) {
	sender, recipient := testPair(t)
	msg := sampleMessage()

	env, err := sender.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if env.Sender != aliceURI || env.Recipient != bobURI {
		t.Errorf("envelope routing fields wrong: %s → %s", env.Sender, env.Recipient)
	}
	if env.Priority != "high" {
		t.Errorf("priority = %q, want high", env.Priority)
	}
	if len(env.TransportHints) != 2 || env.TransportHints[0] != "syncthing" {
		t.Errorf("transport hints not copied: %v", env.TransportHints)
	}
	if env.TTL != msg.TTL {
		t.Errorf("ttl = %d, want %d", env.TTL, msg.TTL)
	}
	if strings.Contains(string(env.Payload), "usual place") {
		t.Fatal("plaintext content visible in envelope payload")
	}

	got, err := recipient.Decode(env)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != msg.ID || got.Content != msg.Content {
		t.Errorf("message did not round-trip: got %+v", got)
	}
	if got.ThreadID != msg.ThreadID || got.ReplyTo != msg.ReplyTo || got.TTL != msg.TTL {
		t.Error("thread/reply/ttl fields did not round-trip")
	}
	if got.Reactions["+1"] != 1 {
		t.Error("reactions did not round-trip")
	}
	if !got.CreatedAt.Equal(msg.CreatedAt) {
		t.Errorf("created_at did not round-trip: %v vs %v", got.CreatedAt, msg.CreatedAt)
	}
}

func TestRoundTripLargeContentCompresses(t *testing.T) {
	sender, recipient := testPair(t)
	msg := model.NewChatMessage(aliceURI, bobURI, strings.Repeat("all work and no play ", 500))

	env, err := sender.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Repetitive content must compress well below the serialized size.
	if len(env.Payload) > len(msg.Content)/2 {
		t.Errorf("payload %d bytes, expected compression below %d", len(env.Payload), len(msg.Content)/2)
	}

	got, err := recipient.Decode(env)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Content != msg.Content {
		t.Error("compressed content did not round-trip")
	}
}

func TestSmallContentSkipsCompression(t *testing.T) {
	sender, recipient := testPair(t)
	msg := model.NewChatMessage(aliceURI, bobURI, "ok")

	env, err := sender.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := recipient.Decode(env)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Content != "ok" {
		t.Error("small message did not round-trip")
	}
}

func TestEncodeNotByteDeterministic(t *testing.T) {
	sender, recipient := testPair(t)
	msg := sampleMessage()

	env1, err := sender.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	env2, err := sender.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if string(env1.Payload) == string(env2.Payload) {
		t.Error("sealed payloads should differ between encodings")
	}

	got1, err := recipient.Decode(env1)
	if err != nil {
		t.Fatal(err)
	}
	got2, err := recipient.Decode(env2)
	if err != nil {
		t.Fatal(err)
	}
	if got1.ID != got2.ID || got1.Content != got2.Content {
		t.Error("encodings of the same message must decode equivalently")
	}
}

func TestTamperedPayloadFails(t *testing.T) {
	sender, recipient := testPair(t)
	env, err := sender.Encode(sampleMessage())
	if err != nil {
		t.Fatal(err)
	}

	// Flip a single bit in every byte position and require failure each time.
	for i := 0; i < len(env.Payload); i += 97 {
		tampered := env
		tampered.Payload = append([]byte(nil), env.Payload...)
		tampered.Payload[i] ^= 0x01

		_, err := recipient.Decode(tampered)
		if err == nil {
			t.Fatalf("decode succeeded with bit %d flipped", i)
		}
		if !errors.Is(err, model.ErrAuthenticity) && !errors.Is(err, model.ErrDecryption) {
			t.Fatalf("unexpected error kind for tampered payload: %v", err)
		}
	}
}

func TestTamperedSignatureIsAuthenticityError(t *testing.T) {
	sender, recipient := testPair(t)
	env, err := sender.Encode(sampleMessage())
	if err != nil {
		t.Fatal(err)
	}

	env.Signature = append([]byte(nil), env.Signature...)
	env.Signature[0] ^= 0xFF

	_, err = recipient.Decode(env)
	if !errors.Is(err, model.ErrAuthenticity) {
		t.Errorf("expected ErrAuthenticity, got %v", err)
	}
}

func TestForgedSenderIsAuthenticityError(t *testing.T) {
	sender, recipient, reg := testPairWithRegistry(t)
	env, err := sender.Encode(sampleMessage())
	if err != nil {
		t.Fatal(err)
	}

	carol, err := identity.GenerateKeyring("capauth:carol@skworld.io")
	if err != nil {
		t.Fatal(err)
	}
	reg.Register("capauth:carol@skworld.io", carol.SigningPublic(), carol.BoxPublic)

	// Claim the envelope came from carol: signature was made by alice's
	// key, so verification against carol's key must fail.
	env.Sender = "capauth:carol@skworld.io"

	_, err = recipient.Decode(env)
	if !errors.Is(err, model.ErrAuthenticity) {
		t.Errorf("expected ErrAuthenticity for forged sender, got %v", err)
	}
}

func TestWrongRecipientIsDecryptionError(t *testing.T) {
	sender, _ := testPair(t)
	env, err := sender.Encode(sampleMessage())
	if err != nil {
		t.Fatal(err)
	}

	// A third party who can see the wire and knows everyone's public keys
	// still cannot open the box.
	eve, err := identity.GenerateKeyring("capauth:eve@skworld.io")
	if err != nil {
		t.Fatal(err)
	}
	reg := identity.NewRegistry(nil)
	reg.Register(aliceURI, sender.keys.SigningPublic(), sender.keys.BoxPublic)
	eavesdropper := NewCodec(eve, reg)

	_, err = eavesdropper.Decode(env)
	if !errors.Is(err, model.ErrDecryption) {
		t.Errorf("expected ErrDecryption for wrong recipient key, got %v", err)
	}
}

func TestEncodeUnknownRecipient(t *testing.T) {
	sender, _ := testPair(t)
	msg := model.NewChatMessage(aliceURI, "capauth:stranger@nowhere", "hi")

	if _, err := sender.Encode(msg); err == nil {
		t.Error("expected error encoding to unknown recipient")
	}
}

func TestDecodeInvalidatedSenderRejected(t *testing.T) {
	sender, recipient, reg := testPairWithRegistry(t)

	env, err := sender.Encode(model.NewChatMessage(aliceURI, bobURI, "before invalidation"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	reg.Invalidate(aliceURI)

	_, err = recipient.Decode(env)
	if !errors.Is(err, model.ErrProfileInvalid) {
		t.Errorf("expected ErrProfileInvalid for invalidated sender, got %v", err)
	}
}

func TestEncodeInvalidatedRecipientRejected(t *testing.T) {
	sender, _, reg := testPairWithRegistry(t)
	reg.Invalidate(bobURI)

	_, err := sender.Encode(model.NewChatMessage(aliceURI, bobURI, "hi"))
	if !errors.Is(err, model.ErrProfileInvalid) {
		t.Errorf("expected ErrProfileInvalid for invalidated recipient, got %v", err)
	}
}

func TestDecodeSelfAddressedRejected(t *testing.T) {
	_, recipient := testPair(t)

	env := model.Envelope{Sender: bobURI, Recipient: bobURI, Payload: []byte{0x00}}
	_, err := recipient.Decode(env)
	if !errors.Is(err, model.ErrAuthenticity) {
		t.Errorf("expected ErrAuthenticity for self-addressed envelope, got %v", err)
	}
}

func TestEncodeInvalidMessage(t *testing.T) {
	sender, _ := testPair(t)
	if _, err := sender.Encode(model.ChatMessage{Sender: aliceURI, Recipient: bobURI}); err == nil {
		t.Error("expected error encoding message with empty content")
	}
}

func TestEnvelopeExpired(t *testing.T) {
	now := time.Now().UTC()
	env := model.Envelope{CreatedAt: now, TTL: 10}

	if Expired(env, now.Add(5*time.Second)) {
		t.Error("envelope expired early")
	}
	if !Expired(env, now.Add(11*time.Second)) {
		t.Error("envelope should have expired")
	}
	if Expired(model.Envelope{CreatedAt: now}, now.Add(time.Hour)) {
		t.Error("envelope without TTL must never expire")
	}
}
