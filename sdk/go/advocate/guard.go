package advocate

import "context"

// ProtectedFunc is the function signature that Wrap guards. The token id
// comes from whatever channel the peer used to present its capability.
type ProtectedFunc func(ctx context.Context, tokenID string) (any, error)

// Wrap returns a ProtectedFunc that authorizes the token against scope
// before calling fn. A token that does not cover the scope yields a
// *DeniedError without calling fn.
func (c *Client) Wrap(scope Scope, fn ProtectedFunc) ProtectedFunc {
	return func(ctx context.Context, tokenID string) (any, error) {
		if _, err := c.Authorize(ctx, tokenID, scope); err != nil {
			return nil, err
		}
		return fn(ctx, tokenID)
	}
}
