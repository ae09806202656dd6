package advocate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Client validates capability tokens against an advocated daemon.
// Thread-safe for concurrent use.
type Client struct {
	cfg  clientConfig
	http *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry // tokenID|level|resource → entry
}

type cacheEntry struct {
	subject string
	expires time.Time // min(token expiry, cache TTL)
	tokenEx time.Time
}

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := clientConfig{
		daemonURL: "http://127.0.0.1:7411",
		header:    "X-Advocate-Token",
		cacheTTL:  30 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.daemonURL == "" {
		return nil, fmt.Errorf("advocate: daemon URL required")
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		cfg:   cfg,
		http:  hc,
		cache: make(map[string]cacheEntry),
	}, nil
}

// Authorize checks whether tokenID covers the scope. Fail-closed: any
// transport error denies.
func (c *Client) Authorize(ctx context.Context, tokenID string, scope Scope) (Result, error) {
	if tokenID == "" {
		return Result{Reason: "no token presented"}, &DeniedError{Scope: scope, Reason: "no token presented"}
	}

	key := tokenID + "|" + scope.Level + "|" + scope.Resource
	now := time.Now()

	if c.cfg.cacheTTL > 0 {
		c.mu.Lock()
		if e, ok := c.cache[key]; ok && now.Before(e.expires) {
			c.mu.Unlock()
			return Result{Allowed: true, Subject: e.subject, TokenID: tokenID, ExpiresAt: e.tokenEx}, nil
		}
		c.mu.Unlock()
	}

	res, err := c.validate(ctx, tokenID, scope)
	if err != nil {
		return res, err
	}

	if c.cfg.cacheTTL > 0 {
		expires := now.Add(c.cfg.cacheTTL)
		if res.ExpiresAt.Before(expires) {
			expires = res.ExpiresAt
		}
		c.mu.Lock()
		c.cache[key] = cacheEntry{subject: res.Subject, expires: expires, tokenEx: res.ExpiresAt}
		c.mu.Unlock()
	}
	return res, nil
}

func (c *Client) validate(ctx context.Context, tokenID string, scope Scope) (Result, error) {
	body, err := json.Marshal(scope)
	if err != nil {
		return Result{}, err
	}

	url := c.cfg.daemonURL + "/v1/tokens/" + tokenID + "/validate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		reason := fmt.Sprintf("advocate daemon unreachable: %v", err)
		return Result{Reason: reason}, &DeniedError{TokenID: tokenID, Scope: scope, Reason: reason}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return Result{TokenID: tokenID, Reason: e.Error},
			&DeniedError{TokenID: tokenID, Scope: scope, Reason: e.Error}
	}

	var tok struct {
		ID        string    `json:"id"`
		Subject   string    `json:"subject"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return Result{}, fmt.Errorf("advocate: malformed validation response: %w", err)
	}

	return Result{Allowed: true, Subject: tok.Subject, TokenID: tok.ID, ExpiresAt: tok.ExpiresAt}, nil
}
