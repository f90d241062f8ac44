package database

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureTenantsTable creates the shared control-plane table. Subdomain
// uniqueness is enforced here, at the storage layer, not just in application
// logic.
func EnsureTenantsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			tenant_id UUID PRIMARY KEY,
			tenant_name VARCHAR(255) NOT NULL,
			subdomain VARCHAR(63) NOT NULL UNIQUE,
			settings JSONB NOT NULL DEFAULT '{}'::jsonb,
			is_active BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure tenants table: %w", err)
	}
	return nil
}
