package domain

import (
	"time"
)

// Tenant control-plane record (tenants table in the shared schema).
type Tenant struct {
	TenantID  string         `db:"tenant_id"`  // UUID, PRIMARY KEY, immutable
	Name      string         `db:"tenant_name"` // VARCHAR(255), NOT NULL
	Subdomain string         `db:"subdomain"`  // VARCHAR(63), UNIQUE, immutable once assigned
	Settings  TenantSettings `db:"settings"`   // JSONB
	IsActive  bool           `db:"is_active"`  // false until the schema passed validation
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// Trigger identifies which flow submitted a provisioning request.
type Trigger string

const (
	TriggerManual       Trigger = "manual"
	TriggerRegistration Trigger = "registration"
	TriggerInvitation   Trigger = "invitation"
	TriggerAPI          Trigger = "api"
)

func (t Trigger) IsValid() bool {
	switch t {
	case TriggerManual, TriggerRegistration, TriggerInvitation, TriggerAPI:
		return true
	}
	return false
}
