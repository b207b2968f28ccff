/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging (logrus)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/health           Liveness + store ping
  /api/lifecycle/*      Operator: run + execution history
  /api/agents/me/*      Agent session (X-Agent-ID)
  /api/admin/*          Operator: intake of bookings and commissions

SECURITY:
  Operator routes require "Authorization: Bearer <token>" when a token is
  configured. Agent identity is asserted by the upstream gateway header.
  The manual run endpoint is rate limited.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Session, auth, throttle
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// RouterConfig carries the HTTP-level settings.
type RouterConfig struct {
	AllowedOrigins       []string
	OperatorToken        string
	TriggerRatePerMinute int
	Logger               logrus.FieldLogger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = h.Logger
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", AgentHeader},
		AllowCredentials: true,
	}))

	operator := RequireOperator(cfg.OperatorToken)
	limiter := NewTriggerLimiter(cfg.TriggerRatePerMinute)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Lifecycle routes
		r.Route("/lifecycle", func(r chi.Router) {
			r.Use(operator)
			r.With(Throttle(limiter)).Post("/run", h.RunLifecycle)
			r.Get("/executions", h.ListExecutions)
		})

		// Agent routes
		r.Route("/agents/me", func(r chi.Router) {
			r.Use(RequireAgent)
			r.Get("/commissions", h.ListCommissions)
			r.Get("/commissions/stats", h.GetStats)
			r.Get("/payouts", h.ListPayouts)
			r.Post("/payouts", h.CreatePayout)
			r.Get("/payouts/{id}", h.GetPayout)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(operator)
			r.Post("/bookings", h.CreateBooking)
			r.Post("/commissions", h.CreateCommission)
		})
	})

	return r
}
