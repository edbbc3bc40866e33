package auth

import (
	"context"
)

type contextKey string

const identityKey contextKey = "auth_identity"

// Identity is the authenticated caller of a request
type Identity struct {
	UserID string
	Email  string
	Claims *Claims
}

// WithIdentity stores the identity in the request context
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom retrieves the identity stored by WithIdentity
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// UserID returns the authenticated user ID, or "" for anonymous requests
func UserID(ctx context.Context) string {
	if id, ok := IdentityFrom(ctx); ok {
		return id.UserID
	}
	return ""
}
