// Package observability carries loggers and request identifiers through
// context boundaries so background workers stay correlated with the
// originating HTTP request.
package observability

import (
	"context"
	"log/slog"
)

type loggerContextKey struct{}

type requestIDContextKey struct{}

// ContextWithLogger attaches a logger to the context. Nil loggers are ignored
// so callers never plant a value that panics downstream.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the context's logger, falling back to
// slog.Default so call sites never need a nil check.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(loggerContextKey{}); v != nil {
		if lg, ok := v.(*slog.Logger); ok && lg != nil {
			return lg
		}
	}
	return slog.Default()
}

// ContextWithRequestID stores a non-empty request id for downstream
// correlation; the ERP client also forwards it on outbound calls.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// WithVerificationScope derives a context whose logger and request id are
// pinned to one verification, so every log line below this point carries the
// request id and job number without re-tagging.
func WithVerificationScope(ctx context.Context, requestID, jobNo string) (context.Context, *slog.Logger) {
	ctx = ContextWithRequestID(ctx, requestID)
	lg := LoggerFromContext(ctx).With(
		slog.String("request_id", requestID),
		slog.String("job_no", jobNo),
	)
	return ContextWithLogger(ctx, lg), lg
}

// RequestIDFromContext retrieves the request id, or "" when none is present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(requestIDContextKey{}); v != nil {
		if rid, ok := v.(string); ok {
			return rid
		}
	}
	return ""
}
