package token

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skworld/advocate/internal/identity"
	"github.com/skworld/advocate/internal/model"
)

// DefaultTTL applies when a request does not name an expiry.
const DefaultTTL = 24 * time.Hour

// Issuer mints and validates capability tokens. Issuance for the same
// (subject, scope) pair is serialized so concurrent duplicate grants
// return the same token instead of minting two.
type Issuer struct {
	keys   *identity.Keyring
	ledger *Ledger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIssuer creates an Issuer signing with the advocate's keyring.
func NewIssuer(keys *identity.Keyring, ledger *Ledger) *Issuer {
	return &Issuer{
		keys:   keys,
		ledger: ledger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Issue mints a token for subject covering exactly scope. If a live token
// for the same grant already exists it is returned instead of a new one.
func (i *Issuer) Issue(ctx context.Context, subject string, scope model.Scope, ttl time.Duration) (*model.CapabilityToken, error) {
	if subject == "" {
		return nil, fmt.Errorf("token subject must not be empty")
	}
	if !scope.Level.Valid() {
		return nil, fmt.Errorf("unknown permission level %q", scope.Level)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	lock := i.grantLock(subject, scope)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	if existing, err := i.ledger.FindLive(ctx, subject, scope, now); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	t := &model.CapabilityToken{
		ID:        uuid.NewString(),
		Subject:   subject,
		Scope:     scope,
		IssuedAt:  now.Truncate(time.Second),
		ExpiresAt: now.Add(ttl).Truncate(time.Second),
	}
	t.Signature = ed25519.Sign(i.keys.SigningKey, canonicalBytes(t))

	if err := i.ledger.Insert(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks a token id at call time: it must exist, be unrevoked,
// be unexpired, carry a genuine signature, and its scope must subsume the
// requested scope. Validity is evaluated on every call, never cached.
func (i *Issuer) Validate(ctx context.Context, id string, want model.Scope) (*model.CapabilityToken, error) {
	t, err := i.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: unknown token %q", model.ErrAccessDenied, id)
	}
	if t.Revoked {
		return nil, fmt.Errorf("%w: token %s", model.ErrTokenRevoked, id)
	}
	if t.Expired(time.Now().UTC()) {
		return nil, fmt.Errorf("%w: token %s", model.ErrTokenExpired, id)
	}
	if !ed25519.Verify(i.keys.SigningPublic(), canonicalBytes(t), t.Signature) {
		return nil, fmt.Errorf("%w: token %s signature mismatch", model.ErrAuthenticity, id)
	}
	if !t.Scope.Subsumes(want) {
		return nil, fmt.Errorf("%w: token %s does not cover %s", model.ErrAccessDenied, id, want)
	}
	return t, nil
}

// Revoke permanently invalidates a token. Idempotent.
func (i *Issuer) Revoke(ctx context.Context, id string) error {
	return i.ledger.Revoke(ctx, id)
}

// Active lists all live tokens.
func (i *Issuer) Active(ctx context.Context) ([]*model.CapabilityToken, error) {
	return i.ledger.ListActive(ctx, time.Now().UTC())
}

func (i *Issuer) grantLock(subject string, scope model.Scope) *sync.Mutex {
	key := subject + "\x00" + scope.Resource + "\x00" + string(scope.Level)
	i.mu.Lock()
	defer i.mu.Unlock()
	lock, ok := i.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		i.locks[key] = lock
	}
	return lock
}

// canonicalBytes is the stable byte form covered by the signature. The
// signature never covers the Revoked flag, which is ledger state.
func canonicalBytes(t *model.CapabilityToken) []byte {
	fields := []string{
		t.ID,
		t.Subject,
		t.Scope.Resource,
		string(t.Scope.Level),
		strconv.FormatInt(t.IssuedAt.Unix(), 10),
		strconv.FormatInt(t.ExpiresAt.Unix(), 10),
	}
	return []byte(strings.Join(fields, "\n"))
}
