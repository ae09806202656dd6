// Package transport moves sealed envelopes between advocates. The maildrop
// transport exchanges envelope files through a shared directory tree (a
// synced folder, NFS mount, or USB stick), so two advocates never need a
// direct network path.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/skworld/advocate/internal/model"
)

// unsafeChars matches everything not allowed in a mailbox directory name.
var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._@-]`)

// Maildrop is a file-based envelope transport rooted at a shared
// directory. Each identity owns <root>/<mailbox>/inbox.
type Maildrop struct {
	root string
}

// NewMaildrop creates a maildrop transport rooted at dir.
func NewMaildrop(dir string) (*Maildrop, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create maildrop root: %w", err)
	}
	return &Maildrop{root: dir}, nil
}

// Send writes the envelope atomically into the recipient's inbox.
func (m *Maildrop) Send(ctx context.Context, env model.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if env.Recipient == "" {
		return fmt.Errorf("envelope has no recipient")
	}

	inbox := m.Inbox(env.Recipient)
	if err := os.MkdirAll(inbox, 0750); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	// Write-then-rename so the watcher never reads a partial file.
	final := filepath.Join(inbox, uuid.NewString()+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}

// Inbox returns the inbox directory for an identity.
func (m *Maildrop) Inbox(uri string) string {
	return filepath.Join(m.root, mailboxName(uri), "inbox")
}

// ReadEnvelope parses one envelope file.
func ReadEnvelope(path string) (model.Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("read envelope: %w", err)
	}
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.Envelope{}, fmt.Errorf("parse envelope %s: %w", filepath.Base(path), err)
	}
	return env, nil
}

// Consume removes a processed envelope file.
func Consume(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("consume envelope: %w", err)
	}
	return nil
}

// mailboxName flattens an identity URI to a filesystem-safe directory.
func mailboxName(uri string) string {
	name := strings.TrimPrefix(uri, "capauth:")
	return unsafeChars.ReplaceAllString(name, "_")
}
