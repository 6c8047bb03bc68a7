package middleware

import "context"

// Context keys for tenant identity resolved by the HTTP layer.
type contextKey string

const (
	// TenantIDKey is the context key for the resolved tenant's UUID.
	TenantIDKey contextKey = "tenant_id"
	// SubdomainKey is the context key for the tenant's upstream subdomain.
	SubdomainKey contextKey = "subdomain"
)

// WithTenantID returns a new context with the tenant ID set.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithSubdomain returns a new context with the tenant subdomain set.
func WithSubdomain(ctx context.Context, subdomain string) context.Context {
	return context.WithValue(ctx, SubdomainKey, subdomain)
}

// GetTenantID extracts the tenant ID from the context.
func GetTenantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(TenantIDKey).(string)
	return v, ok
}

// GetSubdomain extracts the tenant subdomain from the context.
func GetSubdomain(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(SubdomainKey).(string)
	return v, ok
}
