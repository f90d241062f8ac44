package schema

import (
	"fmt"
	"strings"
)

// ManifestVersion is bumped whenever the per-tenant table set changes.
const ManifestVersion = 1

// TableSpec one table every tenant schema must contain. DDL has a single
// %s placeholder for the schema name and uses IF NOT EXISTS so creation
// can be retried after a partial failure.
type TableSpec struct {
	Name string
	DDL  string
}

// Manifest is the authoritative per-tenant table set (manifest v1).
// Both the schema manager and the validator consume this list; it is never
// re-derived anywhere else.
var Manifest = []TableSpec{
	{
		Name: "users",
		DDL: `CREATE TABLE IF NOT EXISTS %s.users (
			user_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email VARCHAR(255) NOT NULL UNIQUE,
			display_name VARCHAR(255) NOT NULL,
			role VARCHAR(50) NOT NULL DEFAULT 'agent',
			status VARCHAR(50) NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		Name: "customers",
		DDL: `CREATE TABLE IF NOT EXISTS %s.customers (
			customer_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			customer_name VARCHAR(255) NOT NULL,
			email VARCHAR(255),
			phone VARCHAR(50),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		Name: "tickets",
		DDL: `CREATE TABLE IF NOT EXISTS %s.tickets (
			ticket_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			customer_id UUID REFERENCES %s.customers(customer_id),
			subject VARCHAR(500) NOT NULL,
			status VARCHAR(50) NOT NULL DEFAULT 'open',
			priority VARCHAR(20) NOT NULL DEFAULT 'normal',
			assigned_to UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		Name: "ticket_notes",
		DDL: `CREATE TABLE IF NOT EXISTS %s.ticket_notes (
			note_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			ticket_id UUID NOT NULL REFERENCES %s.tickets(ticket_id),
			author_id UUID,
			body TEXT NOT NULL,
			is_internal BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		Name: "ticket_attachments",
		DDL: `CREATE TABLE IF NOT EXISTS %s.ticket_attachments (
			attachment_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			ticket_id UUID NOT NULL REFERENCES %s.tickets(ticket_id),
			file_name VARCHAR(500) NOT NULL,
			content_type VARCHAR(255),
			size_bytes BIGINT NOT NULL DEFAULT 0,
			storage_key VARCHAR(1000) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	{
		Name: "tenant_settings",
		DDL: `CREATE TABLE IF NOT EXISTS %s.tenant_settings (
			setting_key VARCHAR(255) PRIMARY KEY,
			setting_value JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
}

// ManifestTableNames returns the table names in manifest order.
func ManifestTableNames() []string {
	names := make([]string, 0, len(Manifest))
	for _, t := range Manifest {
		names = append(names, t.Name)
	}
	return names
}

// Name derives the deterministic schema name for a tenant. This is the single
// join point between the control plane and every feature repository: all
// schema-qualified SQL downstream uses this name.
func Name(tenantID string) string {
	return "tenant_" + strings.ReplaceAll(tenantID, "-", "_")
}

// renderDDL expands the schema-name placeholders of one table spec.
func renderDDL(spec TableSpec, schemaName string) string {
	n := strings.Count(spec.DDL, "%s")
	args := make([]any, n)
	for i := range args {
		args[i] = schemaName
	}
	return fmt.Sprintf(spec.DDL, args...)
}
