package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentType is a MIME-like content kind for chat messages.
type ContentType string

const (
	ContentPlain    ContentType = "text/plain"
	ContentMarkdown ContentType = "text/markdown"
)

// Reaction is a single reaction symbol with its count.
// The map form on ChatMessage is a multiset: symbol → count.
type Reaction struct {
	Symbol string `json:"symbol"`
	Count  int    `json:"count"`
}

// ChatMessage is the plaintext conversational unit. Plaintext content must
// never leave the process except wrapped in an Envelope.
type ChatMessage struct {
	ID          string         `json:"id"`
	Sender      string         `json:"sender"`
	Recipient   string         `json:"recipient"`
	Content     string         `json:"content"`
	ContentType ContentType    `json:"content_type"`
	CreatedAt   time.Time      `json:"created_at"`
	ThreadID    string         `json:"thread_id,omitempty"`
	ReplyTo     string         `json:"reply_to,omitempty"`
	Reactions   map[string]int `json:"reactions,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	TTL         int            `json:"ttl,omitempty"` // seconds; 0 = permanent
}

// NewChatMessage creates a message with a fresh ID and UTC timestamp.
// Sender and recipient are identity URIs (e.g. "capauth:lumina@skworld.io").
func NewChatMessage(sender, recipient, content string) ChatMessage {
	return ChatMessage{
		ID:          uuid.NewString(),
		Sender:      strings.TrimSpace(sender),
		Recipient:   strings.TrimSpace(recipient),
		Content:     content,
		ContentType: ContentMarkdown,
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks the structural invariants a message must satisfy before
// it can be encoded or screened.
func (m *ChatMessage) Validate() error {
	if strings.TrimSpace(m.Sender) == "" {
		return errEmptyField("sender")
	}
	if strings.TrimSpace(m.Recipient) == "" {
		return errEmptyField("recipient")
	}
	if strings.TrimSpace(m.Content) == "" {
		return errEmptyField("content")
	}
	return nil
}

// IsEphemeral reports whether the message carries a time-to-live.
func (m *ChatMessage) IsEphemeral() bool {
	return m.TTL > 0
}

// IsExpired reports whether an ephemeral message is past its TTL at the
// given instant. Permanent messages never expire.
func (m *ChatMessage) IsExpired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return now.Sub(m.CreatedAt) > time.Duration(m.TTL)*time.Second
}

// AddReaction increments the count for a reaction symbol.
func (m *ChatMessage) AddReaction(symbol string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string]int)
	}
	m.Reactions[symbol]++
}

// MetaString returns a string metadata value, or "" when absent.
func (m *ChatMessage) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	if s, ok := m.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// Envelope is the signed-and-encrypted wire form of a ChatMessage.
// Payload confidentiality holds against anyone lacking the recipient's
// private key; Signature covers the encrypted payload, so integrity is
// verifiable without decrypting.
type Envelope struct {
	Sender         string    `json:"sender"`
	Recipient      string    `json:"recipient"`
	Payload        []byte    `json:"payload"`
	Signature      []byte    `json:"signature"`
	TransportHints []string  `json:"transport_hints,omitempty"`
	Priority       string    `json:"priority,omitempty"`
	TTL            int       `json:"ttl,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
