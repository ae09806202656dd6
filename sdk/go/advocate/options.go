package advocate

import (
	"net/http"
	"time"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	daemonURL  string
	header     string
	cacheTTL   time.Duration
	httpClient *http.Client
}

// WithDaemon sets the advocated base URL. Default http://127.0.0.1:7411.
func WithDaemon(url string) Option {
	return func(c *clientConfig) { c.daemonURL = url }
}

// WithHeader sets the HTTP header carrying the token id.
// Default X-Advocate-Token.
func WithHeader(name string) Option {
	return func(c *clientConfig) { c.header = name }
}

// WithCacheTTL bounds how long a positive validation is reused before the
// daemon is asked again. Zero disables caching, so revocations take effect
// immediately.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *clientConfig) { c.cacheTTL = ttl }
}

// WithHTTPClient overrides the HTTP client used to reach the daemon.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}
