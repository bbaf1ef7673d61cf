/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/schemes/*        Ingestion, versions and workflow actions
  /api/approvals/*      Reviewer queue
  /api/transactions/*   Sales, exchanges, corrections, breakdowns
  /api/dealers/*        Dealers and statements
  /api/products         Catalog
  /api/targets          Dealer targets
  /api/simulate         What-if comparison of candidate schemes
  /api/recalculate      Batch replay of stored payouts
  /api/admin/*          Manual expiry run
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus

SECURITY NOTE:
  No authentication middleware. Actor names on workflow actions are taken
  from the request body as-is.

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

// NewRouter creates a router with all routes configured. origins lists the
// CORS origins allowed to call the API.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/schemes", func(r chi.Router) {
			r.Get("/", h.ListSchemes)
			r.Post("/", h.IngestScheme)
			r.Get("/{id}/active", h.GetActiveScheme)
			r.Route("/{id}/versions/{version}", func(r chi.Router) {
				r.Get("/", h.GetSchemeVersion)
				r.Put("/", h.EditDraft)
				r.Get("/draft", h.ExportDraft)
				r.Get("/approvals", h.GetApprovals)
				r.Post("/submit", h.SubmitScheme)
				r.Post("/approve", h.ApproveScheme)
				r.Post("/reject", h.RejectScheme)
				r.Post("/activate", h.ActivateScheme)
				r.Post("/deactivate", h.DeactivateScheme)
				r.Post("/revise", h.ReviseScheme)
			})
		})

		r.Get("/approvals/pending", h.ListPendingApprovals)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.RecordTransaction)
			r.Post("/preview", h.PreviewTransaction)
			r.Get("/{id}/payout", h.GetPayout)
			r.Post("/{id}/reverse", h.ReverseTransaction)
		})

		r.Route("/dealers", func(r chi.Router) {
			r.Get("/", h.ListDealers)
			r.Post("/", h.SaveDealer)
			r.Get("/{id}/statement", h.GetStatement)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.SaveProduct)
		})

		r.Route("/targets", func(r chi.Router) {
			r.Get("/", h.ListTargets)
			r.Post("/", h.SaveTarget)
		})

		r.Post("/simulate", h.Simulate)
		r.Post("/recalculate", h.Recalculate)
		r.Post("/admin/expire", h.TriggerExpiry)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	return r
}
