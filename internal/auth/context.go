// ABOUTME: Request context helpers carrying the verified agent identity
// ABOUTME: Provides WithIdentity/FromContext for backend handlers

package auth

import (
	"context"

	"github.com/2389/coven-desk/internal/desk"
)

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *desk.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored in ctx, or nil.
func FromContext(ctx context.Context) *desk.Identity {
	id, _ := ctx.Value(identityKey{}).(*desk.Identity)
	return id
}
