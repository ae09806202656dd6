// Package envelope encodes chat messages into signed, encrypted wire
// envelopes and decodes the inverse. It is the only package touching raw
// cryptographic primitives: NaCl sealed boxes for confidentiality, ed25519
// over the ciphertext for authenticity.
package envelope

import (
	"bytes"
	"compress/gzip"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/skworld/advocate/internal/identity"
	"github.com/skworld/advocate/internal/model"
)

// compressMin is the serialized size below which compression is skipped.
// Gzip inflates payloads smaller than this.
const compressMin = 256

// Framing flags, first byte of the sealed plaintext.
const (
	frameRaw  byte = 0x00
	frameGzip byte = 0x01
)

// Metadata keys the codec copies onto the envelope.
const (
	metaTransportHints = "transport_hints"
	metaPriority       = "priority"
)

// Codec transforms ChatMessages to Envelopes and back. It holds no mutable
// state; one Codec may be shared across any number of goroutines.
type Codec struct {
	keys     *identity.Keyring
	resolver identity.Resolver
}

// NewCodec creates a codec for the local keyring, resolving peer keys
// through the given resolver.
func NewCodec(keys *identity.Keyring, resolver identity.Resolver) *Codec {
	return &Codec{keys: keys, resolver: resolver}
}

// Encode serializes, optionally compresses, encrypts, and signs a message.
// Two encodings of the same message differ byte-wise (randomized sealed-box
// nonces) but decode to the same message.
func (c *Codec) Encode(msg model.ChatMessage) (model.Envelope, error) {
	if err := msg.Validate(); err != nil {
		return model.Envelope{}, fmt.Errorf("invalid message: %w", err)
	}

	if !c.resolver.VerifyProfile(msg.Recipient) {
		return model.Envelope{}, fmt.Errorf("%w: recipient %s", model.ErrProfileInvalid, msg.Recipient)
	}
	recipientKey, err := c.resolver.ResolveBoxKey(msg.Recipient)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("resolve recipient key: %w", err)
	}

	serialized, err := json.Marshal(msg)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("serialize message: %w", err)
	}

	framed, err := frame(serialized)
	if err != nil {
		return model.Envelope{}, err
	}

	sealed, err := box.SealAnonymous(nil, framed, recipientKey, rand.Reader)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("seal payload: %w", err)
	}

	sig := ed25519.Sign(c.keys.SigningKey, sealed)

	return model.Envelope{
		Sender:         msg.Sender,
		Recipient:      msg.Recipient,
		Payload:        sealed,
		Signature:      sig,
		TransportHints: transportHints(msg),
		Priority:       msg.MetaString(metaPriority),
		TTL:            msg.TTL,
		CreatedAt:      msg.CreatedAt,
	}, nil
}

// Decode verifies, decrypts, decompresses, and deserializes an envelope.
// Self-addressed envelopes and senders with an invalidated profile are
// rejected before any cryptography. Signature verification precedes
// decryption; each failure keeps its own error kind and no partial message
// is ever returned.
func (c *Codec) Decode(env model.Envelope) (model.ChatMessage, error) {
	if env.Sender == env.Recipient {
		return model.ChatMessage{}, fmt.Errorf("%w: self-addressed envelope from %s",
			model.ErrAuthenticity, env.Sender)
	}
	if !c.resolver.VerifyProfile(env.Sender) {
		return model.ChatMessage{}, fmt.Errorf("%w: sender %s", model.ErrProfileInvalid, env.Sender)
	}
	senderKey, err := c.resolver.ResolveSigningKey(env.Sender)
	if err != nil {
		return model.ChatMessage{}, fmt.Errorf("resolve sender key: %w", err)
	}

	if !ed25519.Verify(senderKey, env.Payload, env.Signature) {
		return model.ChatMessage{}, fmt.Errorf("%w: sender %s", model.ErrAuthenticity, env.Sender)
	}

	framed, ok := box.OpenAnonymous(nil, env.Payload, c.keys.BoxPublic, c.keys.BoxPrivate)
	if !ok {
		return model.ChatMessage{}, fmt.Errorf("%w: recipient %s", model.ErrDecryption, env.Recipient)
	}

	serialized, err := deframe(framed)
	if err != nil {
		return model.ChatMessage{}, fmt.Errorf("%w: %v", model.ErrDecryption, err)
	}

	var msg model.ChatMessage
	if err := json.Unmarshal(serialized, &msg); err != nil {
		return model.ChatMessage{}, fmt.Errorf("%w: malformed message payload", model.ErrDecryption)
	}
	return msg, nil
}

// frame prepends the compression flag, gzipping only above compressMin.
func frame(serialized []byte) ([]byte, error) {
	if len(serialized) < compressMin {
		return append([]byte{frameRaw}, serialized...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(frameGzip)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(serialized); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

func deframe(framed []byte) ([]byte, error) {
	if len(framed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	body := framed[1:]

	switch framed[0] {
	case frameRaw:
		return body, nil
	case frameGzip:
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown framing flag 0x%02x", framed[0])
	}
}

func transportHints(msg model.ChatMessage) []string {
	raw, ok := msg.Metadata[metaTransportHints]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		hints := make([]string, 0, len(v))
		for _, h := range v {
			if s, ok := h.(string); ok {
				hints = append(hints, s)
			}
		}
		return hints
	default:
		return nil
	}
}

// Age reports how long ago the envelope was created.
func Age(env model.Envelope, now time.Time) time.Duration {
	return now.Sub(env.CreatedAt)
}

// Expired reports whether the envelope's TTL has elapsed.
func Expired(env model.Envelope, now time.Time) bool {
	if env.TTL <= 0 {
		return false
	}
	return Age(env, now) > time.Duration(env.TTL)*time.Second
}
