package dbrouter

import (
	"context"
	"log/slog"
)

type handleContextKey struct{}
type scopeContextKey struct{}
type requestIDContextKey struct{}

// RequestIDFromContext retrieves the per-request correlation id attached by
// Middleware (RequestScope.RequestID), for code that wants it without going
// through RequestScopeFromContext.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDContextKey{}).(string)
	return id, ok
}

// WithHandle attaches a resolved Handle to the context, for middleware to
// hand off to application code as request.db.
func WithHandle(ctx context.Context, h *Handle) context.Context {
	ctx = context.WithValue(ctx, handleContextKey{}, h)
	return context.WithValue(ctx, scopeContextKey{}, h.Scope())
}

// HandleFromContext retrieves the Handle attached by WithHandle.
func HandleFromContext(ctx context.Context) (*Handle, bool) {
	h, ok := ctx.Value(handleContextKey{}).(*Handle)
	return h, ok
}

// MustHandleFromContext retrieves the Handle from context, panicking if
// absent. Use only in code paths that require middleware to have run.
func MustHandleFromContext(ctx context.Context) *Handle {
	h, ok := HandleFromContext(ctx)
	if !ok {
		panic("dbrouter: no handle in context")
	}
	return h
}

// ScopeFromContext retrieves the resolved Scope (orgId?, tenantId?)
// attached by WithHandle, for application code that needs to read the
// ambient scope without a full Handle (e.g. for a log line).
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeContextKey{}).(Scope)
	return s, ok
}

// LoggerExtractor returns a ContextExtractor compatible with pkg/logger's
// WithContextExtractors, attaching the resolved scope to every log line
// emitted within a scoped request.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		scope, ok := ScopeFromContext(ctx)
		if !ok || scope.IsRoot() {
			return slog.Attr{}, false
		}
		attrs := []any{}
		if scope.OrgID != "" {
			attrs = append(attrs, slog.String("org_id", scope.OrgID))
		}
		if scope.TenantID != "" {
			attrs = append(attrs, slog.String("tenant_id", scope.TenantID))
		}
		return slog.Group("scope", attrs...), true
	}
}

// RequestIDExtractor returns a ContextExtractor compatible with pkg/logger's
// WithContextExtractors, attaching the request correlation id generated by
// Middleware to every log line emitted within that request.
func RequestIDExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		id, ok := RequestIDFromContext(ctx)
		if !ok || id == "" {
			return slog.Attr{}, false
		}
		return slog.String("request_id", id), true
	}
}
