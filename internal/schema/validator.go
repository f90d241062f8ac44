package schema

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Validator confirms a tenant schema contains every manifest table. It is the
// provisioning-time gate before activation and is reused by the background
// drift detector.
type Validator struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewValidator(db *sql.DB, logger *zap.Logger) *Validator {
	return &Validator{db: db, logger: logger}
}

// ValidateTenantSchema returns false (not an error) when the schema is absent
// or any manifest table is missing, so callers can treat an incomplete schema
// as an ordinary failure branch. The error return is reserved for catalog
// query failures.
func (v *Validator) ValidateTenantSchema(ctx context.Context, tenantID string) (bool, error) {
	missing, err := v.MissingTables(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// MissingTables lists the manifest tables absent from the tenant's schema.
// An absent schema reports the entire manifest as missing.
func (v *Validator) MissingTables(ctx context.Context, tenantID string) ([]string, error) {
	schemaName := Name(tenantID)

	var schemaExists bool
	err := v.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`,
		schemaName,
	).Scan(&schemaExists)
	if err != nil {
		return nil, fmt.Errorf("failed to check schema for tenant %s: %w", tenantID, err)
	}
	if !schemaExists {
		return ManifestTableNames(), nil
	}

	rows, err := v.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = $1`,
		schemaName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	present := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name for tenant %s: %w", tenantID, err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tables for tenant %s: %w", tenantID, err)
	}

	missing := []string{}
	for _, spec := range Manifest {
		if !present[spec.Name] {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) > 0 {
		v.logger.Warn("Tenant schema incomplete",
			zap.String("tenant_id", tenantID),
			zap.Strings("missing_tables", missing),
		)
	}
	return missing, nil
}
