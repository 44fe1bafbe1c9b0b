package router

import "context"

type requestIDKey struct{}

// WithRequestID returns a context carrying the routing request id. Route sets
// it before calling adapters, which forward it upstream as X-Request-ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID extracts the request id from ctx, or "" if none is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
