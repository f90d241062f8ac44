package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"deskwise-control/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreationError is returned for any DDL failure while building a tenant
// schema. Stage names the object that failed so the orchestrator can report
// where the saga broke. Rollback is the caller's responsibility.
type CreationError struct {
	TenantID string
	Stage    string
	Err      error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("schema creation failed for tenant %s at %s: %v", e.TenantID, e.Stage, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// Manager issues the per-tenant DDL. All statements use IF NOT EXISTS /
// IF EXISTS semantics so create and drop are both safe to retry.
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewManager(db *sql.DB, logger *zap.Logger) *Manager {
	return &Manager{db: db, logger: logger}
}

// CreateTenantSchema creates the schema plus the full manifest table set.
// Re-entrant: a retry after a partial failure never errors on objects that
// already exist.
func (m *Manager) CreateTenantSchema(ctx context.Context, tenantID string) error {
	if _, err := uuid.Parse(tenantID); err != nil {
		return &CreationError{TenantID: tenantID, Stage: "schema", Err: fmt.Errorf("invalid tenant id: %w", err)}
	}
	schemaName := Name(tenantID)

	if _, err := m.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName)); err != nil {
		return &CreationError{TenantID: tenantID, Stage: "schema", Err: err}
	}

	for _, spec := range Manifest {
		if _, err := m.db.ExecContext(ctx, renderDDL(spec, schemaName)); err != nil {
			return &CreationError{TenantID: tenantID, Stage: "table:" + spec.Name, Err: err}
		}
	}

	m.logger.Info("Tenant schema created",
		zap.String("tenant_id", tenantID),
		zap.Int("manifest_version", ManifestVersion),
		zap.Int("tables", len(Manifest)),
	)
	return nil
}

// DropTenantSchema removes a tenant schema and everything in it. Used only
// during rollback. Safe on a partially created or entirely absent schema.
func (m *Manager) DropTenantSchema(ctx context.Context, tenantID string) error {
	if _, err := uuid.Parse(tenantID); err != nil {
		return fmt.Errorf("invalid tenant id %q: %w", tenantID, err)
	}
	schemaName := Name(tenantID)

	if _, err := m.db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName)); err != nil {
		return fmt.Errorf("failed to drop schema for tenant %s: %w", tenantID, err)
	}

	m.logger.Info("Tenant schema dropped", zap.String("tenant_id", tenantID))
	return nil
}

// SeedTenantSchema writes the baseline tenant_settings rows. Upserts so a
// retried seed stage never errors on existing keys.
func (m *Manager) SeedTenantSchema(ctx context.Context, tenantID string, settings domain.TenantSettings) error {
	if _, err := uuid.Parse(tenantID); err != nil {
		return &CreationError{TenantID: tenantID, Stage: "seed", Err: fmt.Errorf("invalid tenant id: %w", err)}
	}
	if err := settings.Validate(); err != nil {
		return &CreationError{TenantID: tenantID, Stage: "seed", Err: err}
	}
	schemaName := Name(tenantID)

	blob, err := json.Marshal(settings)
	if err != nil {
		return &CreationError{TenantID: tenantID, Stage: "seed", Err: err}
	}

	seeds := []struct {
		key   string
		value string
	}{
		{"settings", string(blob)},
		{"manifest_version", fmt.Sprintf("%d", ManifestVersion)},
	}
	for _, s := range seeds {
		_, err := m.db.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s.tenant_settings (setting_key, setting_value)
				 VALUES ($1, $2::jsonb)
				 ON CONFLICT (setting_key)
				 DO UPDATE SET setting_value = EXCLUDED.setting_value, updated_at = now()`, schemaName),
			s.key, s.value,
		)
		if err != nil {
			return &CreationError{TenantID: tenantID, Stage: "seed:" + s.key, Err: err}
		}
	}

	return nil
}
