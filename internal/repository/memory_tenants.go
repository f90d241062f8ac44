package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"deskwise-control/internal/domain"
)

// MemoryTenantsRepository keeps the control plane usable in dev and tests
// without a database. Mirrors the Postgres behavior including the
// subdomain uniqueness guarantee.
type MemoryTenantsRepository struct {
	mu         sync.RWMutex
	tenants    map[string]domain.Tenant // tenantID -> Tenant
	subdomains map[string]string        // subdomain -> tenantID
}

func NewMemoryTenantsRepository() *MemoryTenantsRepository {
	return &MemoryTenantsRepository{
		tenants:    map[string]domain.Tenant{},
		subdomains: map[string]string{},
	}
}

var _ TenantsRepository = (*MemoryTenantsRepository)(nil)

func (r *MemoryTenantsRepository) CreateTenant(_ context.Context, tenant *domain.Tenant) error {
	if tenant == nil {
		return fmt.Errorf("tenant is required")
	}
	if tenant.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if tenant.Subdomain == "" {
		return fmt.Errorf("subdomain is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[tenant.TenantID]; ok {
		return fmt.Errorf("tenant %s already exists", tenant.TenantID)
	}
	if _, ok := r.subdomains[tenant.Subdomain]; ok {
		return fmt.Errorf("tenant %s: %w", tenant.TenantID, ErrSubdomainTaken)
	}

	now := time.Now()
	t := *tenant
	t.CreatedAt = now
	t.UpdatedAt = now
	r.tenants[t.TenantID] = t
	r.subdomains[t.Subdomain] = t.TenantID
	return nil
}

func (r *MemoryTenantsRepository) GetTenant(_ context.Context, tenantID string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	return &t, nil
}

func (r *MemoryTenantsRepository) GetTenantBySubdomain(_ context.Context, subdomain string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.subdomains[subdomain]
	if !ok {
		return nil, fmt.Errorf("subdomain %s: %w", subdomain, ErrTenantNotFound)
	}
	t := r.tenants[id]
	return &t, nil
}

func (r *MemoryTenantsRepository) ListTenants(_ context.Context, filter TenantFilters, page, size int) ([]*domain.Tenant, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := []*domain.Tenant{}
	for _, t := range r.tenants {
		if filter.Active != nil && t.IsActive != *filter.Active {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(filter.Search)) {
			continue
		}
		t := t
		all = append(all, &t)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Name < all[j].Name
	})

	total := len(all)
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *MemoryTenantsRepository) SubdomainExists(_ context.Context, subdomain string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.subdomains[subdomain]
	return ok, nil
}

func (r *MemoryTenantsRepository) SetTenantActive(_ context.Context, tenantID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[tenantID]
	if !ok {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	t.IsActive = active
	t.UpdatedAt = time.Now()
	r.tenants[tenantID] = t
	return nil
}

func (r *MemoryTenantsRepository) DeleteTenant(_ context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[tenantID]
	if !ok {
		return nil
	}
	if t.IsActive {
		// matches the Postgres guard: only tentative rows are deleted
		return nil
	}
	delete(r.subdomains, t.Subdomain)
	delete(r.tenants, tenantID)
	return nil
}

func (r *MemoryTenantsRepository) ListActiveTenantIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := []string{}
	for id, t := range r.tenants {
		if t.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
