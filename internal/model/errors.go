package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the advocate core. Cryptographic failures are never
// retried or swallowed — they surface to the caller verbatim.
var (
	// ErrAuthenticity means envelope signature verification failed.
	ErrAuthenticity = errors.New("envelope signature verification failed")

	// ErrDecryption means the envelope payload could not be decrypted.
	ErrDecryption = errors.New("envelope payload undecryptable")

	// ErrProfileInvalid means the peer's identity profile has been
	// invalidated; its keys no longer vouch for anything.
	ErrProfileInvalid = errors.New("identity profile invalid")

	// ErrMessageBlocked means the advocate denied delivery of an otherwise
	// well-formed message.
	ErrMessageBlocked = errors.New("message blocked by advocate")

	// ErrAccessDenied means a negotiation was declined, by policy or by the
	// human principal.
	ErrAccessDenied = errors.New("access denied")

	// ErrPolicyConfig means the policy configuration is malformed. This is
	// the one process-fatal error class.
	ErrPolicyConfig = errors.New("invalid policy configuration")

	// ErrTokenExpired means a capability token is past its expiry.
	ErrTokenExpired = errors.New("capability token expired")

	// ErrTokenRevoked means a capability token has been revoked.
	ErrTokenRevoked = errors.New("capability token revoked")
)

func errEmptyField(name string) error {
	return fmt.Errorf("%s must not be empty", name)
}
