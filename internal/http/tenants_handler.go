package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"deskwise-control/internal/domain"
	"deskwise-control/internal/provisioning"
	"deskwise-control/internal/registry"
	"deskwise-control/internal/repository"
	"deskwise-control/internal/subdomain"

	"go.uber.org/zap"
)

// TenantsHandler serves the control-plane API: provisioning, subdomain
// availability, listing, deactivation and roster export.
type TenantsHandler struct {
	orchestrator *provisioning.Orchestrator
	tenants      repository.TenantsRepository
	registry     *registry.Registry
	logger       *zap.Logger
}

func NewTenantsHandler(
	orchestrator *provisioning.Orchestrator,
	tenants repository.TenantsRepository,
	reg *registry.Registry,
	logger *zap.Logger,
) *TenantsHandler {
	return &TenantsHandler{
		orchestrator: orchestrator,
		tenants:      tenants,
		registry:     reg,
		logger:       logger,
	}
}

type tenantPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
	IsActive  bool   `json:"is_active"`
}

type provisionResponse struct {
	Success bool           `json:"success"`
	Tenant  *tenantPayload `json:"tenant,omitempty"`
	Message string         `json:"message"`
}

// ProvisionTenant handles POST /control/api/v1/tenants.
func (h *TenantsHandler) ProvisionTenant(w http.ResponseWriter, r *http.Request) {
	var req provisioning.Request
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusOK, Ok(provisionResponse{Success: false, Message: "invalid request body"}))
		return
	}
	if req.Trigger == "" {
		req.Trigger = domain.TriggerManual
	}

	result, err := h.orchestrator.Execute(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusOK, Ok(provisionResponse{Success: false, Message: provisioningMessage(err)}))
		return
	}

	writeJSON(w, http.StatusOK, Ok(provisionResponse{
		Success: true,
		Tenant: &tenantPayload{
			ID:        result.Tenant.TenantID,
			Name:      result.Tenant.Name,
			Subdomain: result.Tenant.Subdomain,
			IsActive:  result.Tenant.IsActive,
		},
		Message: "tenant provisioned",
	}))
}

// provisioningMessage maps provisioning failures to user-visible text.
// Internal detail (stage, SQL, schema names) stays in the logs.
func provisioningMessage(err error) string {
	var vErr *provisioning.ValidationError
	if errors.As(err, &vErr) {
		return vErr.Error()
	}
	if errors.Is(err, repository.ErrSubdomainTaken) {
		return "subdomain is already taken"
	}
	if errors.Is(err, subdomain.ErrExhausted) {
		return "could not allocate a unique subdomain, please choose one explicitly"
	}
	return "tenant provisioning failed, please try again later"
}

type availabilityResponse struct {
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

// CheckSubdomain handles GET /control/api/v1/subdomains/check?subdomain=x.
func (h *TenantsHandler) CheckSubdomain(w http.ResponseWriter, r *http.Request) {
	candidate := r.URL.Query().Get("subdomain")
	if err := subdomain.Validate(candidate); err != nil {
		writeJSON(w, http.StatusOK, Ok(availabilityResponse{Available: false, Message: err.Error()}))
		return
	}

	exists, err := h.tenants.SubdomainExists(r.Context(), candidate)
	if err != nil {
		h.logger.Error("Subdomain availability check failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to check subdomain"))
		return
	}
	if exists {
		writeJSON(w, http.StatusOK, Ok(availabilityResponse{Available: false, Message: "subdomain is already taken"}))
		return
	}
	writeJSON(w, http.StatusOK, Ok(availabilityResponse{Available: true, Message: "subdomain is available"}))
}

// ListTenants handles GET /control/api/v1/tenants.
func (h *TenantsHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	filter := repository.TenantFilters{Search: r.URL.Query().Get("search")}
	switch r.URL.Query().Get("status") {
	case "active":
		active := true
		filter.Active = &active
	case "inactive":
		active := false
		filter.Active = &active
	}
	page := parseInt(r.URL.Query().Get("page"), 1)
	size := parseInt(r.URL.Query().Get("size"), 50)

	items, total, err := h.tenants.ListTenants(r.Context(), filter, page, size)
	if err != nil {
		h.logger.Error("Failed to list tenants", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to list tenants"))
		return
	}

	out := make([]tenantPayload, 0, len(items))
	for _, t := range items {
		out = append(out, tenantPayload{
			ID:        t.TenantID,
			Name:      t.Name,
			Subdomain: t.Subdomain,
			IsActive:  t.IsActive,
		})
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"items": out, "total": total}))
}

// DeactivateTenant handles POST /control/api/v1/tenants/{id}/deactivate.
// Soft state change: resolution stops, the schema is retained.
func (h *TenantsHandler) DeactivateTenant(w http.ResponseWriter, r *http.Request, tenantID string) {
	tenant, err := h.tenants.GetTenant(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			writeJSON(w, http.StatusOK, Fail("tenant not found"))
			return
		}
		h.logger.Error("Failed to load tenant for deactivation", zap.String("tenant_id", tenantID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to deactivate tenant"))
		return
	}

	if err := h.registry.Deactivate(r.Context(), tenantID, tenant.Subdomain); err != nil {
		h.logger.Error("Failed to deactivate tenant", zap.String("tenant_id", tenantID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to deactivate tenant"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"tenant_id": tenantID, "is_active": false}))
}

// exportPageSize listing page size while assembling the roster export.
const exportPageSize = 1000

// ExportTenants handles GET /control/api/v1/tenants/export. Pages through
// the whole roster so the export never truncates.
func (h *TenantsHandler) ExportTenants(w http.ResponseWriter, r *http.Request) {
	all := []*domain.Tenant{}
	for page := 1; ; page++ {
		items, total, err := h.tenants.ListTenants(r.Context(), repository.TenantFilters{}, page, exportPageSize)
		if err != nil {
			h.logger.Error("Failed to export tenants", zap.Error(err))
			writeJSON(w, http.StatusOK, Fail("failed to export tenants"))
			return
		}
		all = append(all, items...)
		if len(items) == 0 || len(all) >= total {
			break
		}
	}

	data, err := GenerateTenantExport(all)
	if err != nil {
		h.logger.Error("Failed to generate tenant export", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to export tenants"))
		return
	}

	filename := fmt.Sprintf("tenants_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	_, _ = w.Write(data)
}
