package registry

import (
	"context"
	"testing"

	"deskwise-control/internal/domain"
	"deskwise-control/internal/repository"
	"deskwise-control/internal/schema"
	"deskwise-control/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRegistry(t *testing.T) (*repository.MemoryTenantsRepository, *miniredis.Miniredis, *Registry) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := repository.NewMemoryTenantsRepository()
	reg := New(repo, store.NewRedisKV(client), zap.NewNop())
	return repo, mr, reg
}

func seedTenant(t *testing.T, repo *repository.MemoryTenantsRepository, sub string, active bool) string {
	t.Helper()
	tenant := &domain.Tenant{
		TenantID:  uuid.New().String(),
		Name:      "Acme Corp",
		Subdomain: sub,
		Settings:  domain.DefaultSettings(),
	}
	require.NoError(t, repo.CreateTenant(context.Background(), tenant))
	if active {
		require.NoError(t, repo.SetTenantActive(context.Background(), tenant.TenantID, true))
	}
	return tenant.TenantID
}

func TestResolve_ActiveTenant(t *testing.T) {
	repo, _, reg := setupRegistry(t)
	tenantID := seedTenant(t, repo, "acme", true)

	got, err := reg.Resolve(context.Background(), tenantID)

	require.NoError(t, err)
	assert.Equal(t, schema.Name(tenantID), got)
}

func TestResolve_InactiveAndUnknown(t *testing.T) {
	repo, _, reg := setupRegistry(t)
	inactive := seedTenant(t, repo, "acme", false)

	_, err := reg.Resolve(context.Background(), inactive)
	assert.ErrorIs(t, err, ErrTenantUnavailable)

	_, err = reg.Resolve(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, ErrTenantUnavailable)

	_, err = reg.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrTenantUnavailable)
}

func TestResolveSubdomain_CachesInRedis(t *testing.T) {
	repo, mr, reg := setupRegistry(t)
	tenantID := seedTenant(t, repo, "acme", true)
	ctx := context.Background()

	got, err := reg.ResolveSubdomain(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, tenantID, got)

	// cached for the next lookup
	cached, err := mr.Get("deskwise:tenant:subdomain:acme")
	require.NoError(t, err)
	assert.Equal(t, tenantID, cached)

	got, err = reg.ResolveSubdomain(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, tenantID, got)
}

func TestResolveSubdomain_UnknownAndInactive(t *testing.T) {
	repo, _, reg := setupRegistry(t)
	seedTenant(t, repo, "dormant", false)

	_, err := reg.ResolveSubdomain(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTenantUnavailable)

	_, err = reg.ResolveSubdomain(context.Background(), "dormant")
	assert.ErrorIs(t, err, ErrTenantUnavailable)
}

func TestActivate_FlipsRowAndCache(t *testing.T) {
	repo, _, reg := setupRegistry(t)
	tenantID := seedTenant(t, repo, "acme", false)
	ctx := context.Background()

	_, err := reg.Resolve(ctx, tenantID)
	require.ErrorIs(t, err, ErrTenantUnavailable)

	require.NoError(t, reg.Activate(ctx, tenantID))

	got, err := reg.Resolve(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, schema.Name(tenantID), got)

	stored, err := repo.GetTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}

func TestDeactivate_StopsResolutionAndInvalidatesCache(t *testing.T) {
	repo, mr, reg := setupRegistry(t)
	tenantID := seedTenant(t, repo, "acme", true)
	ctx := context.Background()

	_, err := reg.ResolveSubdomain(ctx, "acme")
	require.NoError(t, err)
	require.True(t, mr.Exists("deskwise:tenant:subdomain:acme"))

	require.NoError(t, reg.Deactivate(ctx, tenantID, "acme"))

	assert.False(t, mr.Exists("deskwise:tenant:subdomain:acme"))

	_, err = reg.Resolve(ctx, tenantID)
	assert.ErrorIs(t, err, ErrTenantUnavailable)

	_, err = reg.ResolveSubdomain(ctx, "acme")
	assert.ErrorIs(t, err, ErrTenantUnavailable)
}

func TestForget_DropsInProcessEntry(t *testing.T) {
	repo, _, reg := setupRegistry(t)
	tenantID := seedTenant(t, repo, "acme", true)
	ctx := context.Background()

	_, err := reg.Resolve(ctx, tenantID)
	require.NoError(t, err)

	// deactivate behind the registry's back, then drop the stale entry
	require.NoError(t, repo.SetTenantActive(ctx, tenantID, false))
	reg.Forget(tenantID)

	_, err = reg.Resolve(ctx, tenantID)
	assert.ErrorIs(t, err, ErrTenantUnavailable)
}
