/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/leave-types/*    Catalog
  /api/employees/*      Directory records and balances
  /api/applications/*   Validation and application lifecycle
  /api/admin/*          Adjustments, audit, year-end routines, seeding
  /api/analytics/*      Reports
  /api/holidays/*       Holiday calendar
  /healthz              Store reachability

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins are the local frontend dev servers.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/leave-types", func(r chi.Router) {
			r.Get("/", h.ListLeaveTypes)
			r.Post("/", h.CreateLeaveType)
			r.Put("/{id}/carry-over-rule", h.PutCarryOverRule)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}/balances", h.GetEmployeeBalances)
		})

		r.Route("/applications", func(r chi.Router) {
			r.Post("/validate", h.ValidateApplication)
			r.Get("/", h.ListApplications)
			r.Post("/", h.SubmitApplication)
			r.Get("/{id}", h.GetApplication)
			r.Put("/{id}", h.UpdateApplication)
			r.Post("/{id}/withdraw", h.WithdrawApplication)
			r.Post("/{id}/approve", h.ApproveApplication)
			r.Post("/{id}/reject", h.RejectApplication)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)
			r.Get("/audit", h.ListAudit)
			r.Post("/carry-over", h.TriggerCarryOver)
			r.Post("/years/{year}/initialize", h.InitializeYear)
			r.Get("/year-end-runs", h.ListYearEndRuns)
			r.Post("/seed", h.Seed)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/usage", h.UsageReport)
			r.Get("/balances", h.BalanceReport)
			r.Get("/trends", h.Trends)
			r.Get("/team-calendar", h.TeamCalendar)
		})

		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.Post("/", h.CreateHoliday)
			r.Delete("/{id}", h.DeleteHoliday)
		})
	})

	return r
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store answers. Stores without Ping are
// always healthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
