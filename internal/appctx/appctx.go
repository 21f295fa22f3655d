// Package appctx carries request-scoped values: the request logger and the
// calling tenant as asserted by the upstream gateway.
package appctx

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

type tenantKey struct{}

// Tenant identifies the caller of an admin request.
type Tenant struct {
	// ID is the caller's tenant id; empty when multitenancy is off.
	ID string
	// SuperAdmin callers may act on behalf of any tenant.
	SuperAdmin bool
}

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFromContext returns the logger from the context (if present).
func LoggerFromContext(ctx context.Context) (*slog.Logger, bool) {
	l, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	return l, ok && l != nil
}

// GetLogger returns the logger from the context, or slog.Default() if missing.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := LoggerFromContext(ctx); ok {
		return l
	}
	return slog.Default()
}

// WithTenant attaches the calling tenant to the context.
func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

// TenantFromContext returns the calling tenant; the zero Tenant when absent.
func TenantFromContext(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(tenantKey{}).(Tenant)
	return t, ok
}
