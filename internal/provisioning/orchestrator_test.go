package provisioning

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"deskwise-control/internal/domain"
	"deskwise-control/internal/registry"
	"deskwise-control/internal/repository"
	"deskwise-control/internal/schema"
	"deskwise-control/internal/subdomain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSchemas stands in for the schema manager and validator. It tracks which
// tenant schemas exist and can be told to fail at a chosen step.
type fakeSchemas struct {
	mu      sync.Mutex
	created map[string]bool
	seeded  map[string]bool

	failCreate   error
	failSeed     error
	validateFail error
	validateOK   *bool // nil means "true when created"
}

func newFakeSchemas() *fakeSchemas {
	return &fakeSchemas{created: map[string]bool{}, seeded: map[string]bool{}}
}

func (f *fakeSchemas) CreateTenantSchema(_ context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	f.created[tenantID] = true
	return nil
}

func (f *fakeSchemas) DropTenantSchema(_ context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.created, tenantID)
	delete(f.seeded, tenantID)
	return nil
}

func (f *fakeSchemas) SeedTenantSchema(_ context.Context, tenantID string, _ domain.TenantSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSeed != nil {
		return f.failSeed
	}
	f.seeded[tenantID] = true
	return nil
}

func (f *fakeSchemas) ValidateTenantSchema(_ context.Context, tenantID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.validateFail != nil {
		return false, f.validateFail
	}
	if f.validateOK != nil {
		return *f.validateOK, nil
	}
	return f.created[tenantID], nil
}

func (f *fakeSchemas) schemaExists(tenantID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[tenantID]
}

type recordingNotifier struct {
	mu       sync.Mutex
	attempts []Attempt
	errs     []error
}

func (n *recordingNotifier) ProvisioningFinished(_ context.Context, attempt Attempt, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts = append(n.attempts, attempt)
	n.errs = append(n.errs, err)
}

type orchestratorFixture struct {
	repo     *repository.MemoryTenantsRepository
	schemas  *fakeSchemas
	registry *registry.Registry
	notifier *recordingNotifier
	orch     *Orchestrator
}

func newFixture(t *testing.T, maxRetries int) *orchestratorFixture {
	t.Helper()
	log := zap.NewNop()

	repo := repository.NewMemoryTenantsRepository()
	schemas := newFakeSchemas()
	reg := registry.New(repo, nil, log)
	notifier := &recordingNotifier{}
	alloc := subdomain.NewAllocator(repo, log)

	return &orchestratorFixture{
		repo:     repo,
		schemas:  schemas,
		registry: reg,
		notifier: notifier,
		orch:     NewOrchestrator(repo, alloc, schemas, schemas, reg, notifier, maxRetries, log),
	}
}

func TestExecute_SuccessActivatesTenant(t *testing.T) {
	f := newFixture(t, 0)

	res, err := f.orch.Execute(context.Background(), Request{
		Name:        "Acme Corp",
		CompanyName: "Acme Corp",
		Trigger:     domain.TriggerManual,
	})

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "acme-corp", res.Subdomain)
	assert.True(t, res.Tenant.IsActive)
	assert.True(t, f.schemas.schemaExists(res.Tenant.TenantID))

	// active tenant resolves to its schema
	schemaName, err := f.registry.Resolve(context.Background(), res.Tenant.TenantID)
	require.NoError(t, err)
	assert.Equal(t, schema.Name(res.Tenant.TenantID), schemaName)

	stored, err := f.repo.GetTenant(context.Background(), res.Tenant.TenantID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)

	require.Len(t, f.notifier.attempts, 1)
	assert.Equal(t, StageActive, f.notifier.attempts[0].Stage)
	assert.NoError(t, f.notifier.errs[0])
}

func TestExecute_DefaultSettingsApplied(t *testing.T) {
	f := newFixture(t, 0)

	res, err := f.orch.Execute(context.Background(), Request{Name: "Acme", Trigger: domain.TriggerAPI})

	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), res.Tenant.Settings)
}

func TestExecute_ValidationErrors(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	cases := []struct {
		name  string
		req   Request
		field string
	}{
		{"empty name", Request{Trigger: domain.TriggerManual}, "name"},
		{"bad trigger", Request{Name: "Acme", Trigger: domain.Trigger("cron")}, "trigger"},
		{"registration without email", Request{Name: "Acme", Trigger: domain.TriggerRegistration}, "user_email"},
		{"bad subdomain", Request{Name: "Acme", Trigger: domain.TriggerManual, Subdomain: "Bad_Subdomain!"}, "subdomain"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orch.Execute(ctx, tc.req)
			require.Error(t, err)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}

	// no tenant rows or schemas may exist after rejected requests
	_, total, err := f.repo.ListTenants(ctx, repository.TenantFilters{}, 1, 50)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestExecute_ExplicitTakenSubdomainFailsFast(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.orch.Execute(ctx, Request{Name: "First", Subdomain: "acme", Trigger: domain.TriggerManual})
	require.NoError(t, err)

	_, err = f.orch.Execute(ctx, Request{Name: "Second", Subdomain: "acme", Trigger: domain.TriggerManual})
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrSubdomainTaken)

	// fail-fast: the loser never got a row, a schema, or the winner's schema
	_, total, err := f.repo.ListTenants(ctx, repository.TenantFilters{}, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestExecute_GeneratedSubdomainRetriesWithSuffix(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	first, err := f.orch.Execute(ctx, Request{Name: "Acme", CompanyName: "Acme", Trigger: domain.TriggerManual})
	require.NoError(t, err)
	require.Equal(t, "acme", first.Subdomain)

	second, err := f.orch.Execute(ctx, Request{Name: "Acme", CompanyName: "Acme", Trigger: domain.TriggerManual})
	require.NoError(t, err)
	assert.Equal(t, "acme-1", second.Subdomain)
	assert.NotEqual(t, first.Tenant.TenantID, second.Tenant.TenantID)
}

func TestExecute_SchemaFailureRollsBackRow(t *testing.T) {
	f := newFixture(t, 0)
	f.schemas.failCreate = fmt.Errorf("disk full")
	ctx := context.Background()

	_, err := f.orch.Execute(ctx, Request{Name: "Acme", Trigger: domain.TriggerManual})

	require.Error(t, err)
	var sErr *StageError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, StageSchemaCreated, sErr.Stage)

	// the tentative row is compensated away, so the subdomain is free again
	exists, err := f.repo.SubdomainExists(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, exists)

	require.Len(t, f.notifier.attempts, 1)
	assert.Equal(t, StageRolledBack, f.notifier.attempts[0].Stage)
}

func TestExecute_SeedFailureDropsSchemaAndRow(t *testing.T) {
	f := newFixture(t, 0)
	f.schemas.failSeed = fmt.Errorf("seed write rejected")
	ctx := context.Background()

	_, err := f.orch.Execute(ctx, Request{Name: "Acme", Trigger: domain.TriggerManual})

	require.Error(t, err)
	var sErr *StageError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, StageSchemaSeeded, sErr.Stage)
	assert.False(t, f.schemas.schemaExists(sErr.TenantID))

	exists, err := f.repo.SubdomainExists(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, exists)

	// a rolled-back tenant must never resolve
	_, err = f.registry.Resolve(ctx, sErr.TenantID)
	assert.ErrorIs(t, err, registry.ErrTenantUnavailable)
}

func TestExecute_IncompleteSchemaIsNeverExposed(t *testing.T) {
	f := newFixture(t, 0)
	notOK := false
	f.schemas.validateOK = &notOK
	ctx := context.Background()

	_, err := f.orch.Execute(ctx, Request{Name: "Acme", Trigger: domain.TriggerManual})

	require.Error(t, err)
	var sErr *StageError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, StageValidated, sErr.Stage)
	assert.False(t, f.schemas.schemaExists(sErr.TenantID))

	_, err = f.registry.Resolve(ctx, sErr.TenantID)
	assert.ErrorIs(t, err, registry.ErrTenantUnavailable)

	ids, err := f.repo.ListActiveTenantIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestExecute_ConcurrentSameCompanyName(t *testing.T) {
	// every contender needs headroom for candidates lost to the insert race
	f := newFixture(t, 30)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.orch.Execute(ctx, Request{
				Name:        "Acme",
				CompanyName: "Acme",
				Trigger:     domain.TriggerAPI,
			})
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "contender %d", i)
		require.NotNil(t, results[i])
		assert.False(t, seen[results[i].Subdomain], "duplicate subdomain %s", results[i].Subdomain)
		seen[results[i].Subdomain] = true
		assert.True(t, f.schemas.schemaExists(results[i].Tenant.TenantID))
	}

	ids, err := f.repo.ListActiveTenantIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, n)
}
