package repository

import (
	"context"
	"errors"

	"deskwise-control/internal/domain"
)

var (
	// ErrTenantNotFound no tenant row for the given id or subdomain.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrSubdomainTaken the subdomain UNIQUE constraint rejected an insert.
	// The storage layer is the final authority on subdomain uniqueness; the
	// allocator's availability check is only optimistic.
	ErrSubdomainTaken = errors.New("subdomain already taken")
)

// TenantFilters list filtering options.
type TenantFilters struct {
	// Active filters on is_active when set.
	Active *bool
	// Search matches tenant_name (ILIKE).
	Search string
}

// TenantsRepository is the control-plane tenants table access interface.
type TenantsRepository interface {
	// CreateTenant inserts the tentative row (is_active=false). The single
	// atomic insert doubles as the per-tenant provisioning mutex: a second
	// orchestration for the same tenant id cannot insert again.
	CreateTenant(ctx context.Context, tenant *domain.Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
	GetTenantBySubdomain(ctx context.Context, subdomain string) (*domain.Tenant, error)
	ListTenants(ctx context.Context, filter TenantFilters, page, size int) ([]*domain.Tenant, int, error)
	// SubdomainExists optimistic availability check used by the allocator.
	SubdomainExists(ctx context.Context, subdomain string) (bool, error)
	// SetTenantActive flips activation in a single UPDATE so concurrent
	// readers never observe a half-written tenant.
	SetTenantActive(ctx context.Context, tenantID string, active bool) error
	// DeleteTenant removes the row. Used only by provisioning rollback;
	// post-activation deactivation is a soft SetTenantActive(false).
	DeleteTenant(ctx context.Context, tenantID string) error
	ListActiveTenantIDs(ctx context.Context) ([]string, error)
}
