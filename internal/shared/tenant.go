package shared

import (
	"context"
	"errors"
)

type ctxKey int

const (
	tenantKey ctxKey = iota
	actorKey
)

// ErrNoTenant indicates a request reached a handler without tenant scoping.
var ErrNoTenant = errors.New("tenant not resolved for request")

// WithTenant returns a context scoped to the tenant.
func WithTenant(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantFromContext extracts the tenant id set by the tenancy middleware.
func TenantFromContext(ctx context.Context) (int64, error) {
	id, ok := ctx.Value(tenantKey).(int64)
	if !ok || id == 0 {
		return 0, ErrNoTenant
	}
	return id, nil
}

// WithActor returns a context carrying the acting user's id.
func WithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFromContext extracts the acting user's id, zero when anonymous.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorKey).(int64)
	return id
}
