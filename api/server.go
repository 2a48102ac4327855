/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Structured request logging (slog)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests, origins from config

ROUTE GROUPS:
  /api/employees/*      Employees and rate history
  /api/deals/*          Deals and split preview
  /api/accruals/*       Payroll accruals and payments
  /api/accounts/*       Money accounts
  /api/cash-flows/*     Cash-flow rows
  /api/forecast         Cash-flow projection
  /api/reports/*        Revenue reports
  /api/maintenance/*    Recalculation and anomaly scan
  /api/scenarios/*      Demo scenarios
  /api/reset            Database reset (dev only)
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Put("/{id}", h.UpdateEmployee)
			r.Delete("/{id}", h.RetireEmployee)
			r.Get("/{id}/rates", h.ListRates)
			r.Post("/{id}/rates", h.AddRate)
		})

		// Deal routes
		r.Route("/deals", func(r chi.Router) {
			r.Get("/", h.ListDeals)
			r.Post("/", h.CreateDeal)
			r.Post("/preview", h.PreviewDeal)
			r.Get("/{id}", h.GetDeal)
			r.Patch("/{id}", h.UpdateDeal)
			r.Delete("/{id}", h.DeleteDeal)
		})

		// Payroll routes
		r.Route("/accruals", func(r chi.Router) {
			r.Get("/", h.ListAccruals)
			r.Get("/anomalies", h.GetAnomalies)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.PayAccrual)
			r.Delete("/{id}", h.DeleteAccrual)
		})

		// Cash routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
		})
		r.Route("/cash-flows", func(r chi.Router) {
			r.Get("/", h.ListCashFlows)
			r.Post("/", h.CreateCashFlow)
			r.Get("/{id}", h.GetCashFlow)
			r.Patch("/{id}", h.UpdateCashFlow)
			r.Delete("/{id}", h.DeleteCashFlow)
		})

		r.Get("/forecast", h.GetForecast)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/monthly", h.GetMonthlyReport)
			r.Get("/employees", h.GetEmployeeReport)
		})

		// Maintenance routes
		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/recalculate", h.Recalculate)
			r.Post("/scan", h.RunScan)
			r.Get("/status", h.GetMaintenanceStatus)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
		r.Post("/reset", h.ResetDatabase)
	})

	return r
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
