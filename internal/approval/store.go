// Package approval persists escalated access requests as files so the
// human principal can inspect and resolve them out of band, and so pending
// escalations survive a daemon restart.
package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateKey rejects keys that could cause path traversal.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// Status represents the state of an escalated request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Approval is one escalated access request awaiting the principal.
// Key is the negotiation correlation id.
type Approval struct {
	Key           string     `json:"key"`
	Status        Status     `json:"status"`
	Requester     string     `json:"requester"`
	Resource      string     `json:"resource"`
	Level         string     `json:"level"`
	Justification string     `json:"justification"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Store manages approval files on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create approval directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default approval store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "advocate-pending")
	}
	return filepath.Join(home, ".advocate", "pending")
}

// Request creates a pending approval file. No-op if it already exists.
func (s *Store) Request(key, requester, resource, level, justification string, deadline time.Time) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	if _, err := os.Stat(path); err == nil {
		return nil // already exists
	}

	a := Approval{
		Key:           key,
		Status:        StatusPending,
		Requester:     requester,
		Resource:      resource,
		Level:         level,
		Justification: justification,
		CreatedAt:     time.Now().UTC(),
	}
	if !deadline.IsZero() {
		a.Deadline = &deadline
	}

	return s.writeAtomic(path, a)
}

// Resolve marks an approval approved or denied with an optional reason.
func (s *Store) Resolve(key string, approved bool, reason string) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.read(key)
	if err != nil {
		return fmt.Errorf("approval %q not found: %w", key, err)
	}

	if approved {
		a.Status = StatusApproved
	} else {
		a.Status = StatusDenied
	}
	a.Reason = reason
	now := time.Now().UTC()
	a.ResolvedAt = &now

	return s.writeAtomic(s.path(key), *a)
}

// Expire marks an unanswered approval expired.
func (s *Store) Expire(key string) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.read(key)
	if err != nil {
		return fmt.Errorf("approval %q not found: %w", key, err)
	}
	if a.Status != StatusPending {
		return nil
	}

	a.Status = StatusExpired
	now := time.Now().UTC()
	a.ResolvedAt = &now

	return s.writeAtomic(s.path(key), *a)
}

// Check returns the current status of an approval. A pending approval
// past its deadline reports (and records) StatusExpired.
func (s *Store) Check(key string) (Status, error) {
	if err := validateKey(key); err != nil {
		return "", fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.read(key)
	if err != nil {
		return "", fmt.Errorf("approval %q not found", key)
	}

	if a.Status == StatusPending && a.Deadline != nil && time.Now().UTC().After(*a.Deadline) {
		a.Status = StatusExpired
		s.writeAtomic(s.path(key), *a)
		return StatusExpired, nil
	}

	return a.Status, nil
}

// List returns all approvals in the store.
func (s *Store) List() ([]Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var approvals []Approval
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		key := strings.TrimSuffix(e.Name(), ".json")
		a, err := s.read(key)
		if err != nil {
			continue
		}
		approvals = append(approvals, *a)
	}

	return approvals, nil
}

// Pending returns only unresolved approvals.
func (s *Store) Pending() ([]Approval, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var pending []Approval
	for _, a := range all {
		if a.Status == StatusPending {
			pending = append(pending, a)
		}
	}
	return pending, nil
}

// Cleanup removes all approval files in the store.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) read(key string) (*Approval, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, err
	}

	var a Approval
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}

	return &a, nil
}

func (s *Store) writeAtomic(path string, a Approval) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
