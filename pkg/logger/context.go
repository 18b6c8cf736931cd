package logger

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// ContextWithRequestID stores the request id for code that only sees a context.Context
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFrom returns the request id stored by ContextWithRequestID
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// FromContext returns the global logger tagged with the request id, if any
func FromContext(ctx context.Context) zerolog.Logger {
	if id := RequestIDFrom(ctx); id != "" {
		return WithRequestID(id)
	}
	return zlog
}
