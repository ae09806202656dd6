package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PermissionLevel orders capability permission levels. Higher level
// subsumes lower.
type PermissionLevel string

const (
	PermRead  PermissionLevel = "read"
	PermWrite PermissionLevel = "write"
	PermAdmin PermissionLevel = "admin"
)

// permRank maps permission levels to comparable integers.
var permRank = map[PermissionLevel]int{
	PermRead:  0,
	PermWrite: 1,
	PermAdmin: 2,
}

// Rank returns the comparable rank of the level, or -1 for unknown levels.
func (p PermissionLevel) Rank() int {
	if r, ok := permRank[p]; ok {
		return r
	}
	return -1
}

// Valid reports whether the level is one of the known constants.
func (p PermissionLevel) Valid() bool {
	return p.Rank() >= 0
}

// Scope is a structured capability scope: a resource plus a permission
// level on it.
type Scope struct {
	Resource string          `json:"resource"`
	Level    PermissionLevel `json:"level"`
}

// String renders the scope in "level:resource" form for keys and logs.
func (s Scope) String() string {
	return fmt.Sprintf("%s:%s", s.Level, s.Resource)
}

// Subsumes reports whether s covers other: same or broader resource and an
// equal or higher permission level. Resource matching is exact or prefix
// with a trailing "*" ("/data/*" subsumes "/data/reports").
func (s Scope) Subsumes(other Scope) bool {
	if s.Level.Rank() < other.Level.Rank() {
		return false
	}
	if s.Resource == other.Resource || s.Resource == "*" {
		return true
	}
	if strings.HasSuffix(s.Resource, "*") {
		prefix := strings.TrimSuffix(s.Resource, "*")
		return strings.HasPrefix(other.Resource, prefix)
	}
	return false
}

// AccessRequest asks a remote advocate for a capability on a resource.
type AccessRequest struct {
	CorrelationID string        `json:"correlation_id"`
	Requester     string        `json:"requester"`
	Scope         Scope         `json:"scope"`
	Justification string        `json:"justification"`
	Expiry        time.Duration `json:"expiry"`
	CreatedAt     time.Time     `json:"created_at"`
}

// NewAccessRequest creates a request with a fresh correlation id.
func NewAccessRequest(requester string, scope Scope, justification string, expiry time.Duration) AccessRequest {
	return AccessRequest{
		CorrelationID: uuid.NewString(),
		Requester:     requester,
		Scope:         scope,
		Justification: justification,
		Expiry:        expiry,
		CreatedAt:     time.Now().UTC(),
	}
}

// CapabilityToken is a signed, scope-limited, time-bounded grant.
// Everything except Revoked is immutable after issuance.
type CapabilityToken struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Scope     Scope     `json:"scope"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Signature []byte    `json:"signature"`
	Revoked   bool      `json:"revoked"`
}

// Expired reports whether the token is past expiry at the given instant.
func (t *CapabilityToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
