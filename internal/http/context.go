package http

import "context"

type contextKey string

const requestIDContextKey contextKey = "afcstats/request-id"

// RequestIDFromContext returns the request id set by the request id middleware, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDContextKey).(string); ok {
		return value
	}
	return ""
}
