// Package advocate lets Go services guard their resources with capability
// tokens issued by an advocated daemon. Callers present a token id; the
// SDK validates it against the daemon and caches positive answers until
// the token expires.
//
// Usage:
//
//	gate, err := advocate.New(advocate.WithDaemon("http://127.0.0.1:7411"))
//	handler := gate.Middleware(myHandler)
//
// or for non-HTTP code paths:
//
//	res, err := gate.Authorize(ctx, tokenID, advocate.Scope{
//	    Resource: "/projects/atlas",
//	    Level:    "write",
//	})
//
// Validation fails closed: an unreachable daemon denies access.
package advocate
