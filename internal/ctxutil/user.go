// Package ctxutil carries the authenticated user through a context.
// It has no internal dependencies so any package can import it.
package ctxutil

import "context"

type userKey struct{}

// WithUserID returns a context carrying the user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserIDFromContext returns the user ID, or "" when the context is anonymous.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userKey{}).(string); ok {
		return v
	}
	return ""
}
