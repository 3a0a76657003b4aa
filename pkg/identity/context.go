package identity

import "context"

// ctxKey is an unexported type used as the context key for TenantContext.
type ctxKey struct{}

// TenantContext carries the authenticated tenant and user through the
// request context. It is built once per request from a verified bearer
// token and never mutated afterwards.
type TenantContext struct {
	TenantID     string
	UserID       string
	BranchID     string
	Roles        []string
	Permissions  []string
	IsPrivileged bool
	RawClaims    map[string]any
}

// HasPermission reports whether the context grants the given permission
// string. Privileged principals match everything.
func (tc TenantContext) HasPermission(perm string) bool {
	if tc.IsPrivileged {
		return true
	}
	for _, p := range tc.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// WithTenant returns a new context with the given TenantContext attached.
func WithTenant(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext retrieves the TenantContext from the context.
// Returns the zero value and false if no tenant is set.
func FromContext(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(ctxKey{}).(TenantContext)
	return tc, ok
}

// TenantIDFromContext returns the tenant id from the context, or "" if no
// tenant context is set.
func TenantIDFromContext(ctx context.Context) string {
	tc, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return tc.TenantID
}
