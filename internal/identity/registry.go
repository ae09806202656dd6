// Package identity resolves public key material for identity URIs.
// Key generation, challenge-response, and profile lifecycle belong to the
// external identity subsystem; this package only answers "what keys does
// this identity hold" and "is its profile currently valid".
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// boxKeySize is the curve25519 key length used by the envelope codec.
const boxKeySize = 32

// Resolver answers key and profile lookups for identity URIs.
type Resolver interface {
	// ResolveSigningKey returns the ed25519 public key for the identity.
	ResolveSigningKey(uri string) (ed25519.PublicKey, error)
	// ResolveBoxKey returns the curve25519 encryption public key.
	ResolveBoxKey(uri string) (*[32]byte, error)
	// VerifyProfile reports whether the identity's profile is valid.
	VerifyProfile(uri string) bool
}

// Profile holds the published key material for one identity.
type Profile struct {
	SigningKey string `yaml:"signing_key" json:"signing_key"` // base64 ed25519 public key
	BoxKey     string `yaml:"box_key"     json:"box_key"`     // base64 curve25519 public key
	Valid      bool   `yaml:"valid"       json:"valid"`
}

// Registry is a Resolver backed by an in-memory map of profiles.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewRegistry creates a Registry from a profiles map.
func NewRegistry(profiles map[string]*Profile) *Registry {
	if profiles == nil {
		profiles = make(map[string]*Profile)
	}
	return &Registry{profiles: profiles}
}

// Load reads a registry from a YAML file mapping identity URI → Profile.
// A missing file yields an empty registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(nil), nil
		}
		return nil, fmt.Errorf("failed to read identity registry: %w", err)
	}

	var profiles map[string]*Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse identity registry: %w", err)
	}
	return NewRegistry(profiles), nil
}

// Register adds or replaces a profile. Used by tests and the keygen flow.
func (r *Registry) Register(uri string, signing ed25519.PublicKey, box *[32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[uri] = &Profile{
		SigningKey: base64.StdEncoding.EncodeToString(signing),
		BoxKey:     base64.StdEncoding.EncodeToString(box[:]),
		Valid:      true,
	}
}

// Invalidate marks an identity's profile invalid without removing its keys.
func (r *Registry) Invalidate(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.profiles[uri]; ok {
		p.Valid = false
	}
}

// ResolveSigningKey returns the ed25519 public key for the identity.
func (r *Registry) ResolveSigningKey(uri string) (ed25519.PublicKey, error) {
	p, err := r.lookup(uri)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(p.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("malformed signing key for %q: %w", uri, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signing key for %q has wrong size %d", uri, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// ResolveBoxKey returns the curve25519 encryption public key.
func (r *Registry) ResolveBoxKey(uri string) (*[32]byte, error) {
	p, err := r.lookup(uri)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(p.BoxKey)
	if err != nil {
		return nil, fmt.Errorf("malformed box key for %q: %w", uri, err)
	}
	if len(raw) != boxKeySize {
		return nil, fmt.Errorf("box key for %q has wrong size %d", uri, len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// Save writes the registry to a YAML file. Used by the keygen flow.
func (r *Registry) Save(path string) error {
	r.mu.RLock()
	data, err := yaml.Marshal(r.profiles)
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal identity registry: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// VerifyProfile reports whether the identity is known and its profile valid.
func (r *Registry) VerifyProfile(uri string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[normalize(uri)]
	return ok && p.Valid
}

func (r *Registry) lookup(uri string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[normalize(uri)]
	if !ok {
		return nil, fmt.Errorf("unknown identity %q", uri)
	}
	return p, nil
}

func normalize(uri string) string {
	return strings.TrimSpace(uri)
}

// MatchPattern checks if a value matches a glob-like pattern.
// Supports: *x* (contains), *.ext (suffix), /prefix/* (prefix), exact match.
// Matching is case-insensitive.
func MatchPattern(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	lowerValue := strings.ToLower(value)
	lowerPattern := strings.ToLower(pattern)

	// *x* — contains
	if strings.HasPrefix(lowerPattern, "*") && strings.HasSuffix(lowerPattern, "*") {
		inner := lowerPattern[1 : len(lowerPattern)-1]
		return strings.Contains(lowerValue, inner)
	}

	// *.ext — suffix
	if strings.HasPrefix(lowerPattern, "*") {
		suffix := lowerPattern[1:]
		return strings.HasSuffix(lowerValue, suffix)
	}

	// /prefix/* — prefix
	if strings.HasSuffix(lowerPattern, "*") {
		prefix := lowerPattern[:len(lowerPattern)-1]
		return strings.HasPrefix(lowerValue, prefix)
	}

	// Exact match
	return lowerValue == lowerPattern
}
