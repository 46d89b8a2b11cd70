/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in error logs
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the HR frontend

ROUTE GROUPS:
  /api/employees/*        Employee records
  /api/employments/*      Probation, allocations, salary, payroll
  /api/funding-sources/*  Grant lines and capacity
  /api/tax/*              Tax rules import and lookup
  /api/transitions/*      Daily probation-completion batch
  /api/scenarios/*        Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/employees", func(r chi.Router) {
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
		})

		r.Route("/employments", func(r chi.Router) {
			r.Post("/", h.CreateEmployment)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetEmployment)

				r.Get("/probation", h.GetProbation)
				r.Post("/probation/extend", h.ExtendProbation)
				r.Post("/probation/pass", h.PassProbation)
				r.Post("/probation/fail", h.FailProbation)

				r.Get("/allocations", h.ListAllocations)
				r.Post("/allocations", h.CreateAllocations)

				r.Get("/salary", h.GetSalary)

				r.Get("/payroll", h.ListPayroll)
				r.Post("/payroll", h.GeneratePayroll)
			})
		})

		r.Route("/funding-sources", func(r chi.Router) {
			r.Post("/", h.CreateFundingSource)
			r.Get("/{id}/allocations", h.ListSourceAllocations)
			r.Get("/{id}/capacity", h.GetCapacity)
		})

		r.Route("/tax", func(r chi.Router) {
			r.Post("/rules", h.ImportTaxRules)
			r.Get("/rules/{year}", h.GetTaxRules)
		})

		r.Route("/transitions", func(r chi.Router) {
			r.Post("/run", h.RunTransitions)
			r.Get("/runs", h.ListTransitionRuns)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
