/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to
  handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/webhook/*            Event ingestion
  /api/tenants/{tenantID}/* Tenant config, previews, dashboard
  /api/admin/*              Batch triggers
  /api/catalog/*            Fulfillment project catalog
  /healthz                  Liveness

SECURITY NOTE:
  No authentication middleware currently. Deploy behind the tracker
  platform's request signing or a gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Event ingestion
		r.Route("/webhook", func(r chi.Router) {
			r.Post("/issue-event", h.ProcessIssueEvent)
		})

		// Tenant routes
		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Get("/config", h.GetConfig)
			r.Put("/config", h.SetConfig)
			r.Get("/rules", h.GetRules)
			r.Put("/rules", h.SetRules)
			r.Get("/funding", h.GetFunding)
			r.Put("/funding", h.SetFunding)

			r.Post("/preview/score", h.PreviewScore)
			r.Post("/preview/allocation", h.PreviewAllocation)

			r.Get("/dashboard", h.GetDashboard)
			r.Get("/issues/{issueID}/ledger", h.GetIssueLedger)
			r.Get("/batches/{periodKey}", h.GetBatch)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/batch/run", h.RunBatch)
			r.Post("/batch/run/{tenantID}", h.RunTenantBatch)
		})

		// Catalog routes
		r.Route("/catalog", func(r chi.Router) {
			r.Get("/projects", h.ListCatalogProjects)
		})
	})

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
