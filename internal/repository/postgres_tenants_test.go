package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"deskwise-control/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockTenantsRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresTenantsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPostgresTenantsRepository(db)
	return db, mock, repo
}

func tentativeTenant() *domain.Tenant {
	return &domain.Tenant{
		TenantID:  uuid.New().String(),
		Name:      "Acme Corp",
		Subdomain: "acme",
		Settings:  domain.DefaultSettings(),
		IsActive:  false,
	}
}

func TestCreateTenant_Success(t *testing.T) {
	db, mock, repo := setupMockTenantsRepo(t)
	defer db.Close()

	tenant := tentativeTenant()

	mock.ExpectExec("INSERT INTO tenants").
		WithArgs(tenant.TenantID, tenant.Name, tenant.Subdomain, sqlmock.AnyArg(), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateTenant(context.Background(), tenant)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTenant_UniqueViolationIsSubdomainTaken(t *testing.T) {
	db, mock, repo := setupMockTenantsRepo(t)
	defer db.Close()

	tenant := tentativeTenant()

	mock.ExpectExec("INSERT INTO tenants").
		WithArgs(tenant.TenantID, tenant.Name, tenant.Subdomain, sqlmock.AnyArg(), false).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tenants_subdomain_key"})

	err := repo.CreateTenant(context.Background(), tenant)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubdomainTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTenant_MissingFields(t *testing.T) {
	db, mock, repo := setupMockTenantsRepo(t)
	defer db.Close()

	err := repo.CreateTenant(context.Background(), &domain.Tenant{Name: "Acme"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant_id is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

func tenantRows(t *domain.Tenant) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"tenant_id", "tenant_name", "subdomain", "settings", "is_active", "created_at", "updated_at",
	}).AddRow(
		t.TenantID, t.Name, t.Subdomain, []byte(`{"version":1}`), t.IsActive, time.Now(), time.Now(),
	)
}

func TestGetTenant_Success(t *testing.T) {
	db, mock, repo := setupMockTenantsRepo(t)
	defer db.Close()

	tenant := tentativeTenant()
	tenant.IsActive = true

	mock.ExpectQuery("SELECT").
		WithArgs(tenant.TenantID).
		WillReturnRows(tenantRows(tenant))

	got, err := repo.GetTenant(context.Background(), tenant.TenantID)

	require.NoError(t, err)
	assert.Equal(t, tenant.TenantID, got.TenantID)
	assert.Equal(t, "acme", got.Subdomain)
	assert.True(t, got.IsActive)
	assert.Equal(t, 1, got.Settings.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenant_NotFound(t *testing.T) {
	db, mock, repo := setupMockTenantsRepo(t)
	defer db.Close()

	tenantID := uuid.New().String()

	mock.ExpectQuery("SELECT").
		WithArgs(tenantID).
		WillReturnError(sql.ErrNoRows)

	got, err := repo.GetTenant(context.Background(), tenantID)

	require.Error(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrTenantNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenantBySubdomain_Success(t *testing.T) {
	db, mock, repo := setupMockTenantsRepo(t)
	defer db.Close()

	tenant := tentativeTenant()

	mock.ExpectQuery("SELECT").
		WithArgs("acme").
		WillReturnRows(tenantRows(tenant))

	got, err := repo.GetTenantBySubdomain(context.Background(), "acme")

	require.NoError(t, err)
	assert.Equal(t, tenant.TenantID, got.TenantID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubdomainExists(t *testing.T) {
	db, mock, repo := setupMockTenantsRepo(t)
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.SubdomainExists(context.Background(), "acme")

	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTenantActive_Success(t *testing.T) {
	db, mock, repo := setupMockTenantsRepo(t)
	defer db.Close()

	tenantID := uuid.New().String()

	mock.ExpectExec("UPDATE tenants").
		WithArgs(tenantID, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetTenantActive(context.Background(), tenantID, true)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTenantActive_NotFound(t *testing.T) {
	db, mock, repo := setupMockTenantsRepo(t)
	defer db.Close()

	tenantID := uuid.New().String()

	mock.ExpectExec("UPDATE tenants").
		WithArgs(tenantID, false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetTenantActive(context.Background(), tenantID, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTenantNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTenant_OnlyTouchesTentativeRows(t *testing.T) {
	db, mock, repo := setupMockTenantsRepo(t)
	defer db.Close()

	tenantID := uuid.New().String()

	mock.ExpectExec("DELETE FROM tenants").
		WithArgs(tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteTenant(context.Background(), tenantID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveTenantIDs(t *testing.T) {
	db, mock, repo := setupMockTenantsRepo(t)
	defer db.Close()

	id1 := uuid.New().String()
	id2 := uuid.New().String()

	mock.ExpectQuery("SELECT tenant_id").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow(id1).AddRow(id2))

	ids, err := repo.ListActiveTenantIDs(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{id1, id2}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTenants_WithFilters(t *testing.T) {
	db, mock, repo := setupMockTenantsRepo(t)
	defer db.Close()

	active := true
	tenant := tentativeTenant()
	tenant.IsActive = true

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(true, "%acme%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT").
		WithArgs(true, "%acme%", 20, 0).
		WillReturnRows(tenantRows(tenant))

	items, total, err := repo.ListTenants(context.Background(), TenantFilters{Active: &active, Search: "acme"}, 1, 20)

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, tenant.TenantID, items[0].TenantID)
	require.NoError(t, mock.ExpectationsWereMet())
}
