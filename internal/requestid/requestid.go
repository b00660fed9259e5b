// Package requestid carries the per-request correlation ID through a
// context.Context.
package requestid

import "context"

type contextKey struct{}

// With returns a copy of ctx carrying the request ID
func With(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

// FromContext returns the request ID stored in ctx, or "".
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}
