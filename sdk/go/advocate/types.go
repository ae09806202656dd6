package advocate

import (
	"fmt"
	"time"
)

// Scope names a resource and the permission level needed on it.
type Scope struct {
	Resource string `json:"resource"`
	Level    string `json:"level"` // "read", "write", "admin"
}

func (s Scope) String() string {
	return s.Level + " " + s.Resource
}

// Result reports an authorization outcome.
type Result struct {
	Allowed   bool
	Subject   string // identity the token was issued to
	TokenID   string
	ExpiresAt time.Time
	Reason    string // populated when denied
}

// DeniedError is returned when a token does not cover the requested scope.
type DeniedError struct {
	TokenID string
	Scope   Scope
	Reason  string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("advocate denied %s for token %s: %s", e.Scope, e.TokenID, e.Reason)
}
