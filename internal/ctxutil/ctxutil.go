// Package ctxutil provides shared context key accessors.
//
// The server's middleware populates the context; the audit recorder and the
// handlers read it. Keeping the keys here lets both sides import one small
// package instead of each other.
package ctxutil

import (
	"context"

	"github.com/beacon-ops/beacon/internal/auth"
	"github.com/beacon-ops/beacon/internal/model"
)

type contextKey string

const (
	keyClaims    contextKey = "claims"
	keyRequestID contextKey = "request_id"
)

// WithClaims returns a new context carrying the given claims.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, keyClaims, claims)
}

// ClaimsFromContext extracts the token claims from the context.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if v, ok := ctx.Value(keyClaims).(*auth.Claims); ok {
		return v
	}
	return nil
}

// ActorFromContext returns the authenticated actor, or false when the
// request carried no valid token.
func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	c := ClaimsFromContext(ctx)
	if c == nil {
		return model.Actor{}, false
	}
	return c.Actor(), true
}

// WithRequestID returns a new context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext extracts the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}
