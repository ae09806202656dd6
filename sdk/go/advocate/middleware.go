package advocate

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Middleware returns an http.Handler that requires a valid capability
// token for every request. The scope is derived from the request: the URL
// path is the resource, and the method maps to a level (GET/HEAD → read,
// everything else → write). Denied requests receive a 403 JSON body.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenID := r.Header.Get(c.cfg.header)
		scope := scopeFromRequest(r)

		_, err := c.Authorize(r.Context(), tokenID, scope)
		if err != nil {
			status := http.StatusForbidden
			if tokenID == "" {
				status = http.StatusUnauthorized
			}
			reason := err.Error()
			var denied *DeniedError
			if errors.As(err, &denied) {
				reason = denied.Reason
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"blocked":  true,
				"reason":   reason,
				"resource": scope.Resource,
				"level":    scope.Level,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// scopeFromRequest maps an HTTP request to the scope it needs.
func scopeFromRequest(r *http.Request) Scope {
	level := "write"
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		level = "read"
	}
	return Scope{Resource: r.URL.Path, Level: level}
}
