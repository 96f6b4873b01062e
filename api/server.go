/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RealIP:         Client address behind the gateway
  3. RequestLogger:  Structured request log (zap)
  4. Metrics:        Prometheus request counter and latency
  5. Recoverer:      Panic recovery (500 instead of crash)
  6. CORS:           Cross-origin requests for the dashboard

ROUTE GROUPS:
  /health                                   Liveness
  /metrics                                  Prometheus scrape
  /api/accounts                             Chart of accounts
  /api/businesses/*                         Tenants
  /api/businesses/{businessID}/invoices/*   Invoice lifecycle
  /api/businesses/{businessID}/transactions/*  Postings
  /api/businesses/{businessID}/reports/*    Aggregation and tax export
  /api/businesses/{businessID}/reconciliation/*  Orphans and runs
  /api/scenarios/*                          Demo data

SECURITY NOTE:
  No authentication middleware. Identity headers are trusted as set by the
  gateway in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions tunes the router.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Logger.Named("http")))
	r.Use(Metrics)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Role", "X-Billing-Locked"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/accounts", h.ListAccounts)

		r.Route("/businesses", func(r chi.Router) {
			r.Get("/", h.ListBusinesses)
			r.Post("/", h.CreateBusiness)

			r.Route("/{businessID}", func(r chi.Router) {
				r.Get("/", h.GetBusiness)
				r.Post("/tax/quote", h.QuoteTax)

				// Invoice routes
				r.Route("/invoices", func(r chi.Router) {
					r.Get("/", h.ListInvoices)
					r.Post("/", h.CreateInvoice)
					r.Get("/{id}", h.GetInvoice)
					r.Put("/{id}", h.UpdateInvoice)
					r.Delete("/{id}", h.DeleteInvoice)
					r.Post("/{id}/issue", h.IssueInvoice)
					r.Post("/{id}/void", h.VoidInvoice)
					r.Post("/{id}/purge", h.PurgeInvoice)
				})

				// Transaction routes
				r.Route("/transactions", func(r chi.Router) {
					r.Get("/", h.ListTransactions)
					r.Post("/", h.PostJournal)
					r.Get("/{id}", h.GetTransaction)
					r.Post("/{id}/reverse", h.ReverseTransaction)
				})

				// Report routes
				r.Route("/reports", func(r chi.Router) {
					r.Get("/balance", h.GetAccountBalance)
					r.Get("/trial-balance", h.GetTrialBalance)
					r.Get("/summary", h.GetSummary)
					r.Get("/compare", h.CompareSummaries)
					r.Get("/gst", h.ExportGst)
				})

				// Reconciliation routes
				r.Route("/reconciliation", func(r chi.Router) {
					r.Get("/orphans", h.FindOrphans)
					r.Post("/repair", h.RepairOrphans)
					r.Get("/verify", h.VerifyBalance)
					r.Post("/check", h.RunCheck)
					r.Get("/runs", h.ListReconciliationRuns)
				})
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
