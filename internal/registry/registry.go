package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deskwise-control/internal/repository"
	"deskwise-control/internal/schema"
	"deskwise-control/internal/store"

	"go.uber.org/zap"
)

// ErrTenantUnavailable is the only resolution failure exposed to request
// handling; the reason (missing, deactivated, mid-provisioning) stays in the
// operator logs.
var ErrTenantUnavailable = errors.New("tenant unavailable")

const subdomainCacheTTL = 10 * time.Minute

// Resolver is the interface every feature repository consumes to qualify
// its SQL. The contract is stable: the schema name is deterministic from the
// tenant id and only active tenants resolve.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string) (string, error)
}

// Registry maps tenant identity to schema name and active status. Read-heavy
// and shared by every request-handling goroutine; it is updated only at
// activation and deactivation, which flip a single tenants row so readers
// never observe a half-written tenant.
type Registry struct {
	tenants repository.TenantsRepository
	cache   store.KV // optional subdomain -> tenant id cache
	logger  *zap.Logger

	mu     sync.RWMutex
	active map[string]bool // tenantID -> active, in-process read cache
}

func New(tenants repository.TenantsRepository, cache store.KV, logger *zap.Logger) *Registry {
	return &Registry{
		tenants: tenants,
		cache:   cache,
		logger:  logger,
		active:  map[string]bool{},
	}
}

var _ Resolver = (*Registry)(nil)

// Resolve returns the schema name for an active tenant.
func (r *Registry) Resolve(ctx context.Context, tenantID string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenant_id is required: %w", ErrTenantUnavailable)
	}

	r.mu.RLock()
	active, known := r.active[tenantID]
	r.mu.RUnlock()

	if known {
		if !active {
			return "", fmt.Errorf("tenant %s is deactivated: %w", tenantID, ErrTenantUnavailable)
		}
		return schema.Name(tenantID), nil
	}

	tenant, err := r.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return "", fmt.Errorf("tenant %s: %w", tenantID, ErrTenantUnavailable)
		}
		return "", fmt.Errorf("failed to resolve tenant %s: %w", tenantID, err)
	}

	r.mu.Lock()
	r.active[tenantID] = tenant.IsActive
	r.mu.Unlock()

	if !tenant.IsActive {
		return "", fmt.Errorf("tenant %s is not active: %w", tenantID, ErrTenantUnavailable)
	}
	return schema.Name(tenantID), nil
}

// ResolveSubdomain maps a request subdomain to the owning tenant id,
// consulting the Redis cache first.
func (r *Registry) ResolveSubdomain(ctx context.Context, sub string) (string, error) {
	if sub == "" {
		return "", fmt.Errorf("subdomain is required: %w", ErrTenantUnavailable)
	}

	key := subdomainKey(sub)
	if r.cache != nil {
		if id, err := r.cache.Get(ctx, key); err == nil {
			// the active flag is still authoritative
			if _, err := r.Resolve(ctx, id); err != nil {
				return "", err
			}
			return id, nil
		} else if !errors.Is(err, store.ErrMiss) {
			r.logger.Warn("Subdomain cache read failed", zap.String("subdomain", sub), zap.Error(err))
		}
	}

	tenant, err := r.tenants.GetTenantBySubdomain(ctx, sub)
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return "", fmt.Errorf("subdomain %s: %w", sub, ErrTenantUnavailable)
		}
		return "", fmt.Errorf("failed to resolve subdomain %s: %w", sub, err)
	}
	if !tenant.IsActive {
		return "", fmt.Errorf("tenant %s is not active: %w", tenant.TenantID, ErrTenantUnavailable)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, tenant.TenantID, subdomainCacheTTL); err != nil {
			r.logger.Warn("Subdomain cache write failed", zap.String("subdomain", sub), zap.Error(err))
		}
	}
	return tenant.TenantID, nil
}

// Activate flips the tenant active in storage, then publishes the change to
// readers. Called by the provisioning orchestrator as its terminal stage.
func (r *Registry) Activate(ctx context.Context, tenantID string) error {
	if err := r.tenants.SetTenantActive(ctx, tenantID, true); err != nil {
		return err
	}
	r.mu.Lock()
	r.active[tenantID] = true
	r.mu.Unlock()

	r.logger.Info("Tenant activated", zap.String("tenant_id", tenantID))
	return nil
}

// Deactivate soft-disables a tenant. The schema is retained for data
// retention; only resolution stops.
func (r *Registry) Deactivate(ctx context.Context, tenantID string, sub string) error {
	if err := r.tenants.SetTenantActive(ctx, tenantID, false); err != nil {
		return err
	}
	r.mu.Lock()
	r.active[tenantID] = false
	r.mu.Unlock()

	if r.cache != nil && sub != "" {
		if err := r.cache.Del(ctx, subdomainKey(sub)); err != nil {
			r.logger.Warn("Subdomain cache invalidation failed", zap.String("subdomain", sub), zap.Error(err))
		}
	}

	r.logger.Info("Tenant deactivated", zap.String("tenant_id", tenantID))
	return nil
}

// Forget drops a tenant from the in-process cache. Used by provisioning
// rollback after a tentative row is deleted.
func (r *Registry) Forget(tenantID string) {
	r.mu.Lock()
	delete(r.active, tenantID)
	r.mu.Unlock()
}

func subdomainKey(sub string) string {
	return "deskwise:tenant:subdomain:" + sub
}
