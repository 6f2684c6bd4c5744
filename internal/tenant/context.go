package tenant

import (
	"context"
	"fmt"
)

type scopeContextKey struct{}

// WithScope attaches the scope of the active request to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, s)
}

// FromContext returns the request scope, if one was attached.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeContextKey{}).(Scope)
	return s, ok
}

// CheckScope fails when ctx carries a request scope whose tenant differs
// from target's. Contexts without a scope (workers, CLI, tests) pass.
func CheckScope(ctx context.Context, target Scope) error {
	active, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	if active.TenantID != target.TenantID {
		return fmt.Errorf("%w: request tenant %q, target tenant %q",
			ErrScopeMismatch, active.TenantID, target.TenantID)
	}
	return nil
}
