package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deskwise-control/internal/domain"
	"deskwise-control/internal/repository"
	"deskwise-control/internal/subdomain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage names one step of the provisioning state machine. Stages execute
// strictly sequentially within one tenant's run.
type Stage string

const (
	StageRequested          Stage = "requested"
	StageSubdomainAllocated Stage = "subdomain_allocated"
	StageTenantRowInserted  Stage = "tenant_row_inserted"
	StageSchemaCreated      Stage = "schema_created"
	StageSchemaSeeded       Stage = "schema_seeded"
	StageValidated          Stage = "validated"
	StageActive             Stage = "active"
	StageRolledBack         Stage = "rolled_back"
)

// ValidationError malformed provisioning input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StageError a provisioning run that failed (and was rolled back) at a
// specific stage. Unwraps to the cause so callers can errors.Is against
// repository.ErrSubdomainTaken, subdomain.ErrExhausted etc.
type StageError struct {
	Stage    Stage
	TenantID string
	Err      error
}

func (e *StageError) Error() string {
	if e.TenantID == "" {
		return fmt.Sprintf("provisioning failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("provisioning failed at %s for tenant %s: %v", e.Stage, e.TenantID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// errSchemaIncomplete validator returned false post-creation.
var errSchemaIncomplete = errors.New("tenant schema incomplete after creation")

// Request one provisioning request, as submitted by registration/admin flows.
type Request struct {
	Name        string                 `json:"name"`
	Subdomain   string                 `json:"subdomain,omitempty"`
	CompanyName string                 `json:"company_name,omitempty"`
	UserEmail   string                 `json:"user_email,omitempty"`
	Settings    *domain.TenantSettings `json:"settings,omitempty"`
	Trigger     domain.Trigger         `json:"trigger"`
}

// Result the provisioning outcome returned to callers.
type Result struct {
	Tenant    *domain.Tenant
	Subdomain string
}

// Attempt is the ephemeral diagnostic record for one orchestration run. It
// exists only between Execute entry and the terminal stage.
type Attempt struct {
	TenantID  string
	Subdomain string
	Trigger   domain.Trigger
	Stage     Stage
	StartedAt time.Time
}

// SchemaAdmin is the schema manager surface the orchestrator drives.
type SchemaAdmin interface {
	CreateTenantSchema(ctx context.Context, tenantID string) error
	DropTenantSchema(ctx context.Context, tenantID string) error
	SeedTenantSchema(ctx context.Context, tenantID string, settings domain.TenantSettings) error
}

// SchemaChecker is the validation gate before activation.
type SchemaChecker interface {
	ValidateTenantSchema(ctx context.Context, tenantID string) (bool, error)
}

// Publisher activates tenants and maintains the resolution caches.
type Publisher interface {
	Activate(ctx context.Context, tenantID string) error
	Forget(tenantID string)
}

// Allocator derives subdomain candidates.
type Allocator interface {
	Generate(ctx context.Context, seed string) (string, error)
}

// Notifier is told about terminal provisioning outcomes. May be nil.
type Notifier interface {
	ProvisioningFinished(ctx context.Context, attempt Attempt, err error)
}

// Orchestrator drives one provisioning request through the state machine:
// allocate -> insert tenant row -> create schema -> seed -> validate ->
// activate. Schema creation and row inserts cannot share a transaction
// (DDL boundary), so any stage failure triggers the compensating actions of
// every completed stage in reverse order.
//
// Distinct tenants provision fully independently; the schema name derives
// from the generated tenant UUID, never from the subdomain, so schema-name
// collisions between tenants are structurally impossible. The tentative-row
// insert is the per-tenant mutual exclusion.
type Orchestrator struct {
	tenants    repository.TenantsRepository
	allocator  Allocator
	schemas    SchemaAdmin
	validator  SchemaChecker
	publisher  Publisher
	notifier   Notifier
	maxRetries int
	logger     *zap.Logger
}

func NewOrchestrator(
	tenants repository.TenantsRepository,
	allocator Allocator,
	schemas SchemaAdmin,
	validator SchemaChecker,
	publisher Publisher,
	notifier Notifier,
	maxRetries int,
	logger *zap.Logger,
) *Orchestrator {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Orchestrator{
		tenants:    tenants,
		allocator:  allocator,
		schemas:    schemas,
		validator:  validator,
		publisher:  publisher,
		notifier:   notifier,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Execute runs one provisioning request to a terminal state: Active on
// success, RolledBack on any failure.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	attempt := Attempt{Trigger: req.Trigger, Stage: StageRequested, StartedAt: time.Now()}

	if err := o.validateRequest(ctx, &req); err != nil {
		o.finish(ctx, attempt, err)
		return nil, err
	}

	result, err := o.provision(ctx, req, &attempt)
	o.finish(ctx, attempt, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) validateRequest(ctx context.Context, req *Request) error {
	if req.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !req.Trigger.IsValid() {
		return &ValidationError{Field: "trigger", Reason: "must be one of manual, registration, invitation, api"}
	}
	if req.Trigger == domain.TriggerRegistration && req.UserEmail == "" {
		return &ValidationError{Field: "user_email", Reason: "required for registration-triggered provisioning"}
	}
	if req.Settings != nil {
		if err := req.Settings.Validate(); err != nil {
			return &ValidationError{Field: "settings", Reason: err.Error()}
		}
	}

	if req.Subdomain != "" {
		if err := subdomain.Validate(req.Subdomain); err != nil {
			return &ValidationError{Field: "subdomain", Reason: err.Error()}
		}
		// An explicitly requested subdomain that is taken fails fast; it must
		// never silently attach to another tenant's existing schema.
		exists, err := o.tenants.SubdomainExists(ctx, req.Subdomain)
		if err != nil {
			return &StageError{Stage: StageRequested, Err: err}
		}
		if exists {
			return &StageError{Stage: StageRequested, Err: fmt.Errorf("subdomain %s: %w", req.Subdomain, repository.ErrSubdomainTaken)}
		}
	}
	return nil
}

func (o *Orchestrator) provision(ctx context.Context, req Request, attempt *Attempt) (*Result, error) {
	settings := domain.DefaultSettings()
	if req.Settings != nil {
		settings = *req.Settings
		if settings.Version == 0 {
			settings.Version = domain.SettingsVersion
		}
	}

	// Stage: allocate subdomain + insert tentative row. The UNIQUE constraint
	// is the real arbiter, so an insert losing the check-then-insert race is
	// retried with a fresh candidate, up to the configured budget.
	tenant, err := o.insertTentative(ctx, req, settings, attempt)
	if err != nil {
		return nil, err
	}

	// From here on every failure must undo the completed stages in reverse
	// order: drop the schema if created, delete the tenant row.
	if err := o.schemas.CreateTenantSchema(ctx, tenant.TenantID); err != nil {
		o.rollback(ctx, attempt, tenant.TenantID, false)
		return nil, &StageError{Stage: StageSchemaCreated, TenantID: tenant.TenantID, Err: err}
	}
	attempt.Stage = StageSchemaCreated

	if err := o.schemas.SeedTenantSchema(ctx, tenant.TenantID, settings); err != nil {
		o.rollback(ctx, attempt, tenant.TenantID, true)
		return nil, &StageError{Stage: StageSchemaSeeded, TenantID: tenant.TenantID, Err: err}
	}
	attempt.Stage = StageSchemaSeeded

	ok, err := o.validator.ValidateTenantSchema(ctx, tenant.TenantID)
	if err != nil {
		o.rollback(ctx, attempt, tenant.TenantID, true)
		return nil, &StageError{Stage: StageValidated, TenantID: tenant.TenantID, Err: err}
	}
	if !ok {
		// The tenant is never exposed: roll back as with any other failure.
		o.rollback(ctx, attempt, tenant.TenantID, true)
		return nil, &StageError{Stage: StageValidated, TenantID: tenant.TenantID, Err: errSchemaIncomplete}
	}
	attempt.Stage = StageValidated

	if err := o.publisher.Activate(ctx, tenant.TenantID); err != nil {
		o.rollback(ctx, attempt, tenant.TenantID, true)
		return nil, &StageError{Stage: StageActive, TenantID: tenant.TenantID, Err: err}
	}
	attempt.Stage = StageActive
	tenant.IsActive = true

	o.logger.Info("Tenant provisioned",
		zap.String("tenant_id", tenant.TenantID),
		zap.String("subdomain", tenant.Subdomain),
		zap.String("trigger", string(req.Trigger)),
		zap.Duration("took", time.Since(attempt.StartedAt)),
	)
	return &Result{Tenant: tenant, Subdomain: tenant.Subdomain}, nil
}

// insertTentative allocates a subdomain and inserts the is_active=false row.
func (o *Orchestrator) insertTentative(ctx context.Context, req Request, settings domain.TenantSettings, attempt *Attempt) (*domain.Tenant, error) {
	seed := req.CompanyName
	if seed == "" {
		seed = req.Name
	}

	for try := 0; try < o.maxRetries; try++ {
		sub := req.Subdomain
		if sub == "" {
			var err error
			sub, err = o.allocator.Generate(ctx, seed)
			if err != nil {
				return nil, &StageError{Stage: StageSubdomainAllocated, Err: err}
			}
		}
		attempt.Subdomain = sub
		attempt.Stage = StageSubdomainAllocated

		tenant := &domain.Tenant{
			TenantID:  uuid.NewString(),
			Name:      req.Name,
			Subdomain: sub,
			Settings:  settings,
			IsActive:  false,
		}
		attempt.TenantID = tenant.TenantID

		err := o.tenants.CreateTenant(ctx, tenant)
		if err == nil {
			attempt.Stage = StageTenantRowInserted
			return tenant, nil
		}
		if errors.Is(err, repository.ErrSubdomainTaken) {
			if req.Subdomain != "" {
				// explicit subdomain: fail fast, no retry
				return nil, &StageError{Stage: StageTenantRowInserted, Err: err}
			}
			o.logger.Debug("Subdomain insert lost the race, retrying",
				zap.String("subdomain", sub),
				zap.Int("try", try+1),
			)
			continue
		}
		return nil, &StageError{Stage: StageTenantRowInserted, TenantID: tenant.TenantID, Err: err}
	}

	return nil, &StageError{Stage: StageSubdomainAllocated, Err: fmt.Errorf("seed %q: %w", seed, subdomain.ErrExhausted)}
}

// rollback executes the compensating actions in reverse stage order. Best
// effort: compensation failures are logged, never propagated over the
// original failure.
func (o *Orchestrator) rollback(ctx context.Context, attempt *Attempt, tenantID string, schemaCreated bool) {
	if schemaCreated {
		if err := o.schemas.DropTenantSchema(ctx, tenantID); err != nil {
			o.logger.Error("Rollback: failed to drop tenant schema",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
		}
	}
	if err := o.tenants.DeleteTenant(ctx, tenantID); err != nil {
		o.logger.Error("Rollback: failed to delete tentative tenant row",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
	o.publisher.Forget(tenantID)
	attempt.Stage = StageRolledBack
}

func (o *Orchestrator) finish(ctx context.Context, attempt Attempt, err error) {
	if err != nil {
		o.logger.Warn("Provisioning failed",
			zap.String("tenant_id", attempt.TenantID),
			zap.String("subdomain", attempt.Subdomain),
			zap.String("stage", string(attempt.Stage)),
			zap.String("trigger", string(attempt.Trigger)),
			zap.Error(err),
		)
	}
	if o.notifier != nil {
		o.notifier.ProvisioningFinished(ctx, attempt, err)
	}
}
