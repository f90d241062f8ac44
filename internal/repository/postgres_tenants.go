package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"deskwise-control/internal/domain"

	"github.com/lib/pq"
)

// uniqueViolation PostgreSQL error code for UNIQUE constraint failures.
const uniqueViolation = "23505"

// PostgresTenantsRepository tenants table implementation over database/sql.
type PostgresTenantsRepository struct {
	db *sql.DB
}

func NewPostgresTenantsRepository(db *sql.DB) *PostgresTenantsRepository {
	return &PostgresTenantsRepository{db: db}
}

var _ TenantsRepository = (*PostgresTenantsRepository)(nil)

const tenantColumns = `
	tenant_id::text,
	tenant_name,
	subdomain,
	COALESCE(settings, '{}'::jsonb) as settings,
	is_active,
	created_at,
	updated_at
`

func scanTenant(row interface{ Scan(...any) error }) (*domain.Tenant, error) {
	var tenant domain.Tenant
	var settingsRaw json.RawMessage
	err := row.Scan(
		&tenant.TenantID,
		&tenant.Name,
		&tenant.Subdomain,
		&settingsRaw,
		&tenant.IsActive,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(settingsRaw, &tenant.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode tenant settings: %w", err)
	}
	return &tenant, nil
}

func (r *PostgresTenantsRepository) CreateTenant(ctx context.Context, tenant *domain.Tenant) error {
	if tenant == nil {
		return fmt.Errorf("tenant is required")
	}
	if tenant.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if tenant.Name == "" {
		return fmt.Errorf("tenant_name is required")
	}
	if tenant.Subdomain == "" {
		return fmt.Errorf("subdomain is required")
	}
	if err := tenant.Settings.Validate(); err != nil {
		return fmt.Errorf("invalid tenant settings: %w", err)
	}

	settingsArg, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode tenant settings: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tenants (tenant_id, tenant_name, subdomain, settings, is_active)
		 VALUES ($1::uuid, $2, $3, $4::jsonb, $5)`,
		tenant.TenantID,
		tenant.Name,
		tenant.Subdomain,
		string(settingsArg),
		tenant.IsActive,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("tenant %s: %w", tenant.TenantID, ErrSubdomainTaken)
		}
		return fmt.Errorf("failed to create tenant %s: %w", tenant.TenantID, err)
	}
	return nil
}

func (r *PostgresTenantsRepository) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM tenants WHERE tenant_id = $1::uuid`, tenantColumns)
	tenant, err := scanTenant(r.db.QueryRowContext(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
		}
		return nil, fmt.Errorf("failed to get tenant %s: %w", tenantID, err)
	}
	return tenant, nil
}

func (r *PostgresTenantsRepository) GetTenantBySubdomain(ctx context.Context, subdomain string) (*domain.Tenant, error) {
	if subdomain == "" {
		return nil, fmt.Errorf("subdomain is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM tenants WHERE subdomain = $1`, tenantColumns)
	tenant, err := scanTenant(r.db.QueryRowContext(ctx, query, subdomain))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subdomain %s: %w", subdomain, ErrTenantNotFound)
		}
		return nil, fmt.Errorf("failed to get tenant by subdomain: %w", err)
	}
	return tenant, nil
}

func (r *PostgresTenantsRepository) ListTenants(ctx context.Context, filter TenantFilters, page, size int) ([]*domain.Tenant, int, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	offset := (page - 1) * size

	where := []string{}
	args := []any{}
	argIdx := 1

	if filter.Active != nil {
		where = append(where, fmt.Sprintf("is_active = $%d", argIdx))
		args = append(args, *filter.Active)
		argIdx++
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("tenant_name ILIKE $%d", argIdx))
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM tenants %s`, whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tenants: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM tenants
		%s
		ORDER BY tenant_name
		LIMIT $%d OFFSET $%d
	`, tenantColumns, whereClause, argIdx, argIdx+1)
	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	tenants := []*domain.Tenant{}
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate tenants: %w", err)
	}

	return tenants, total, nil
}

func (r *PostgresTenantsRepository) SubdomainExists(ctx context.Context, subdomain string) (bool, error) {
	if subdomain == "" {
		return false, fmt.Errorf("subdomain is required")
	}

	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE subdomain = $1)`,
		subdomain,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check subdomain: %w", err)
	}
	return exists, nil
}

func (r *PostgresTenantsRepository) SetTenantActive(ctx context.Context, tenantID string, active bool) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET is_active = $2, updated_at = now() WHERE tenant_id = $1::uuid`,
		tenantID, active,
	)
	if err != nil {
		return fmt.Errorf("failed to set tenant active for %s: %w", tenantID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	return nil
}

func (r *PostgresTenantsRepository) DeleteTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	// Hard delete: this is the compensating action for a tentative row.
	// Activated tenants are never deleted here, only deactivated.
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM tenants WHERE tenant_id = $1::uuid AND is_active = false`,
		tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete tenant %s: %w", tenantID, err)
	}
	return nil
}

func (r *PostgresTenantsRepository) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tenant_id::text FROM tenants WHERE is_active = true ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenant ids: %w", err)
	}
	return ids, nil
}
