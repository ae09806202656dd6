// Package client talks to a running advocated daemon over its local HTTP
// API. CLI commands that need live daemon state (sessions, tokens) go
// through here instead of touching the data files directly.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/skworld/advocate/internal/model"
)

// Client is an HTTP client for the advocated API.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the daemon at baseURL (e.g. http://127.0.0.1:7411).
func New(baseURL string) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Pending lists escalated access requests awaiting resolution.
func (c *Client) Pending(ctx context.Context) ([]model.AccessRequest, error) {
	var out []model.AccessRequest
	if err := c.do(ctx, http.MethodGet, "/v1/pending", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolution narrows or annotates an approval.
type Resolution struct {
	Resource   string `json:"resource,omitempty"`
	Level      string `json:"level,omitempty"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Approve resolves an escalated request in the requester's favor.
func (c *Client) Approve(ctx context.Context, key string, res Resolution) error {
	return c.do(ctx, http.MethodPost, "/v1/approvals/"+key+"/approve", res, nil)
}

// Deny resolves an escalated request against the requester.
func (c *Client) Deny(ctx context.Context, key, reason string) error {
	return c.do(ctx, http.MethodPost, "/v1/approvals/"+key+"/deny", Resolution{Reason: reason}, nil)
}

// Tokens lists live capability tokens.
func (c *Client) Tokens(ctx context.Context) ([]*model.CapabilityToken, error) {
	var out []*model.CapabilityToken
	if err := c.do(ctx, http.MethodGet, "/v1/tokens", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Revoke permanently invalidates a token.
func (c *Client) Revoke(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/tokens/"+id+"/revoke", struct{}{}, nil)
}

// Healthy reports whether the daemon is up.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil) == nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
