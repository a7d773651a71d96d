/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/accounts/*   Account lifecycle, balances, mutations
  /api/payments/*   Payment reconciliation
  /api/packages     Credit package catalog
  /api/models       Priced generation models
  /api/scenarios/*  Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public; run
  behind the bot gateway, never exposed directly.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.RegisterAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/summary", h.GetSummary)
			r.Get("/{id}/history", h.GetHistory)
			r.Get("/{id}/settings", h.GetSettings)
			r.Put("/{id}/settings", h.UpdateSettings)
			r.Put("/{id}/model", h.SetModel)

			// Mutations
			r.Post("/{id}/debit", h.Debit)
			r.Post("/{id}/credit", h.Credit)
			r.Post("/{id}/refund", h.Refund)
			r.Post("/{id}/generations", h.ChargeGeneration)

			// Payments per account
			r.Get("/{id}/payments", h.GetPayments)
			r.Get("/{id}/payments/stats", h.GetPaymentStats)
		})

		// Payment reconciliation routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.RecordPurchase)
			r.Post("/{chargeID}/refund", h.RefundPayment)
		})

		// Catalog routes
		r.Get("/packages", h.ListPackages)
		r.Get("/models", h.ListModels)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
