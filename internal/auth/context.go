// ABOUTME: Request-scoped identity carried on context.Context
// ABOUTME: Storage code pulls the acting user from here instead of threading ids by hand

package auth

import (
	"context"
	"errors"
)

// ErrAuthRequired is returned when an operation needs an acting user and the
// context carries none.
var ErrAuthRequired = errors.New("authentication required")

// Identity describes the authenticated caller of a request.
type Identity struct {
	UserID   string
	Username string
	Email    string
	Provider string // "jwt" or "dev"
}

// identityKey is unexported so only this package can place identities on a
// context.
type identityKey struct{}

// WithIdentity returns a child context carrying the identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext extracts the identity, reporting whether one is present.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// UserID returns the acting user's id or ErrAuthRequired when the context
// carries no identity or an identity with an empty id.
func UserID(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok || id.UserID == "" {
		return "", ErrAuthRequired
	}
	return id.UserID, nil
}

// Detach returns a fresh context carrying the identity of ctx but none of
// its deadlines or cancellation. Background work spawned from a request uses
// this so it keeps acting as the same user after the request finishes.
func Detach(ctx context.Context) context.Context {
	detached := context.Background()
	if id, ok := FromContext(ctx); ok {
		detached = WithIdentity(detached, id)
	}
	return detached
}
