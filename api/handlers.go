/*
handlers.go - HTTP API handlers for the impact engine

PURPOSE:
  Exposes the impact engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain
  logic.

ENDPOINTS:
  Webhook:
    POST   /api/webhook/issue-event                 Process an issue event

  Tenant configuration:
    GET    /api/tenants/{tenantID}/config           Effective config
    PUT    /api/tenants/{tenantID}/config           Replace config
    GET    /api/tenants/{tenantID}/rules            Scoring rules
    PUT    /api/tenants/{tenantID}/rules            Replace rules
    GET    /api/tenants/{tenantID}/funding          Funding config
    PUT    /api/tenants/{tenantID}/funding          Replace funding config

  Previews (read-only, no writes):
    POST   /api/tenants/{tenantID}/preview/score       Score an issue
    POST   /api/tenants/{tenantID}/preview/allocation  Split a tree total

  Dashboard:
    GET    /api/tenants/{tenantID}/dashboard        Aggregates per period/scope
    GET    /api/tenants/{tenantID}/issues/{issueID}/ledger
    GET    /api/tenants/{tenantID}/batches/{periodKey}

  Admin:
    POST   /api/admin/batch/run                     Batch for all tenants
    POST   /api/admin/batch/run/{tenantID}          Batch for one tenant

  Catalog:
    GET    /api/catalog/projects                    Plantable projects

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 502: Fulfillment API failures
  - 500: Internal errors

  The webhook endpoint is the exception: it always returns 200 with
  a result body so the tracker does not retry events we have already
  absorbed.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - pipeline/event.go: The award path behind the webhook
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wityliti/afforestation-atlassian-plugin/afforestation"
	"github.com/wityliti/afforestation-atlassian-plugin/aggregate"
	"github.com/wityliti/afforestation-atlassian-plugin/funding"
	"github.com/wityliti/afforestation-atlassian-plugin/pipeline"
	"github.com/wityliti/afforestation-atlassian-plugin/scoring"
	"github.com/wityliti/afforestation-atlassian-plugin/tenant"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine      *pipeline.Engine
	Fulfillment *afforestation.Client
	Log         *zap.SugaredLogger
}

// NewHandler creates a handler over an assembled pipeline engine.
// fulfillment may be nil; catalog and status endpoints then 503.
func NewHandler(engine *pipeline.Engine, fulfillment *afforestation.Client, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{Engine: engine, Fulfillment: fulfillment, Log: log}
}

// =============================================================================
// WEBHOOK
// =============================================================================

// ProcessIssueEvent runs the award path for one delivered event.
// POST /api/webhook/issue-event
func (h *Handler) ProcessIssueEvent(w http.ResponseWriter, r *http.Request) {
	var req IssueEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event payload", err)
		return
	}
	if req.TenantID == "" || req.Issue.ID == "" {
		writeError(w, http.StatusBadRequest, "tenantId and issue.id are required", nil)
		return
	}

	result := h.Engine.ProcessIssueEvent(r.Context(), req.toEvent())
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// TENANT CONFIGURATION
// =============================================================================

// GetConfig returns the tenant's effective configuration (stored
// values merged over defaults).
// GET /api/tenants/{tenantID}/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	cfg, err := h.Engine.Tenants.GetConfig(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// SetConfig replaces the tenant's configuration.
// PUT /api/tenants/{tenantID}/config
func (h *Handler) SetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	cfg := tenant.DefaultConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid config payload", err)
		return
	}
	if err := h.Engine.Tenants.SetConfig(r.Context(), tenantID, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GetRules returns the tenant's scoring rules.
// GET /api/tenants/{tenantID}/rules
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	rules, err := h.Engine.Tenants.GetRules(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load rules", err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// SetRules replaces the tenant's scoring rules. Each rule's leaves
// expression is validated before anything is stored.
// PUT /api/tenants/{tenantID}/rules
func (h *Handler) SetRules(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var rules []scoring.Rule
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rules payload", err)
		return
	}
	if err := scoring.ValidateRules(rules); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
		return
	}
	if err := h.Engine.Tenants.SetRules(r.Context(), tenantID, rules); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store rules", err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// GetFunding returns the tenant's funding configuration.
// GET /api/tenants/{tenantID}/funding
func (h *Handler) GetFunding(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	cfg, err := h.Engine.Tenants.GetFunding(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load funding config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// SetFunding replaces the tenant's funding configuration after
// validation (percentages must sum to 100, projects must be unique).
// PUT /api/tenants/{tenantID}/funding
func (h *Handler) SetFunding(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var cfg funding.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid funding payload", err)
		return
	}
	if err := h.Engine.Tenants.SetFunding(r.Context(), tenantID, cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Funding config rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// =============================================================================
// PREVIEWS
// =============================================================================

// PreviewScore computes what an issue would earn without writing
// anything.
// POST /api/tenants/{tenantID}/preview/score
func (h *Handler) PreviewScore(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req ScorePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid preview payload", err)
		return
	}

	ev := IssueEventRequest{TenantID: tenantID, Issue: req.Issue, Custom: req.Custom}.toEvent()
	snap, err := h.Engine.Tenants.Snapshot(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load tenant", err)
		return
	}
	score, err := h.Engine.Scorer.PreviewScore(r.Context(), ev.Issue, snap.ScoringInputs())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Preview failed", err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// PreviewAllocation shows how a tree total would split across the
// tenant's funded projects.
// POST /api/tenants/{tenantID}/preview/allocation
func (h *Handler) PreviewAllocation(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req AllocationPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid preview payload", err)
		return
	}
	if req.TotalTrees < 0 {
		writeError(w, http.StatusBadRequest, "totalTrees must be non-negative", nil)
		return
	}

	cfg, err := h.Engine.Tenants.GetFunding(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load funding config", err)
		return
	}
	writeJSON(w, http.StatusOK, funding.PreviewAllocation(req.TotalTrees, cfg))
}

// =============================================================================
// DASHBOARD
// =============================================================================

// GetDashboard returns one aggregate bucket.
// GET /api/tenants/{tenantID}/dashboard?period=weekly&scope=global&scopeId=&at=2026-08-28
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	pt := aggregate.PeriodType(r.URL.Query().Get("period"))
	if pt == "" {
		pt = aggregate.PeriodWeekly
	}
	if !pt.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown period type", nil)
		return
	}
	scope := aggregate.Scope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = aggregate.ScopeGlobal
	}
	scopeID := r.URL.Query().Get("scopeId")

	at := time.Now().UTC()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'at' date, want YYYY-MM-DD", err)
			return
		}
		at = parsed
	}
	pk := aggregate.PeriodKey(pt, at)

	bucket, err := h.Engine.Aggregates.Get(r.Context(), tenantID, scope, scopeID, pt, pk)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load aggregate", err)
		return
	}

	dto := DashboardDTO{
		PeriodType: string(pt),
		PeriodKey:  pk,
		Scope:      string(scope),
		ScopeID:    scopeID,
		Leaves:     bucket.Leaves,
		Trees:      bucket.Trees,
		IssueCount: bucket.IssueCount,
	}
	if bucket.PledgedAt != nil {
		dto.PledgedAt = bucket.PledgedAt.UTC().Format(time.RFC3339)
	}
	if scope == aggregate.ScopeGlobal {
		remainder, err := h.Engine.Aggregates.RemainderTrees(r.Context(), tenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load remainder", err)
			return
		}
		dto.RemainderTrees = remainder
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetIssueLedger returns the per-issue completion history.
// GET /api/tenants/{tenantID}/issues/{issueID}/ledger
func (h *Handler) GetIssueLedger(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	issueID := chi.URLParam(r, "issueID")

	il, err := h.Engine.Ledger.GetIssueLedger(r.Context(), tenantID, issueID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load issue ledger", err)
		return
	}
	il.IssueID = issueID
	writeJSON(w, http.StatusOK, il)
}

// GetBatch returns the batch record for one period.
// GET /api/tenants/{tenantID}/batches/{periodKey}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	periodKey := chi.URLParam(r, "periodKey")

	record, err := h.Engine.Ledger.GetBatch(r.Context(), tenantID, periodKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load batch record", err)
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "No batch for period", nil)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// =============================================================================
// ADMIN
// =============================================================================

// RunBatch triggers the current period's batch for all tenants.
// POST /api/admin/batch/run
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	results, err := h.Engine.RunBatch(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Batch run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// RunTenantBatch triggers the batch for one tenant. An explicit
// ?period= runs (or retries) a specific week.
// POST /api/admin/batch/run/{tenantID}
func (h *Handler) RunTenantBatch(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	periodKey := r.URL.Query().Get("period")
	if periodKey == "" {
		periodKey = aggregate.PeriodKey(aggregate.PeriodWeekly, time.Now())
	}
	result := h.Engine.RunTenantBatch(r.Context(), tenantID, aggregate.PeriodWeekly, periodKey)
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// CATALOG
// =============================================================================

// ListCatalogProjects proxies the fulfillment API's project catalog.
// GET /api/catalog/projects
func (h *Handler) ListCatalogProjects(w http.ResponseWriter, r *http.Request) {
	if h.Fulfillment == nil {
		writeError(w, http.StatusServiceUnavailable, "Fulfillment API not configured", nil)
		return
	}
	projects, err := h.Fulfillment.GetCatalogProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "Catalog lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
