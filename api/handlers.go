/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the lifecycle processor, payout aggregator and execution history
  via REST API. Handles HTTP request/response, JSON serialization, and
  delegates to the commission package.

ENDPOINTS:
  Lifecycle (operator):
    POST   /api/lifecycle/run              Run one lifecycle pass
    GET    /api/lifecycle/executions       Paginated execution history

  Agent (X-Agent-ID):
    GET    /api/agents/me/commissions        List own commissions (?status=)
    GET    /api/agents/me/commissions/stats  Dashboard summary
    POST   /api/agents/me/payouts            Claim all available commissions
    GET    /api/agents/me/payouts            Payout history
    GET    /api/agents/me/payouts/{id}       Payout detail

  Admin (operator):
    POST   /api/admin/bookings             Upsert a booking record
    POST   /api/admin/commissions          Register a pending commission

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (processor, aggregator, reporter)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing agent session or operator credentials
  - 404: Resource not found
  - 409: Conflict (duplicate booking, concurrent payout)
  - 429: Manual trigger throttled
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Agent session, operator auth, throttling
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence surface the HTTP layer needs. Both the sqlite
// store and the in-memory store satisfy it.
type Store interface {
	commission.Store
	commission.BookingReader
	commission.PayoutStore
	SaveBooking(ctx context.Context, b commission.Booking) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Store
	Reporter   *commission.Reporter
	Aggregator *commission.Aggregator
	Logger     logrus.FieldLogger

	Clock func() time.Time
	NewID func() string
}

// NewHandler creates a new handler.
func NewHandler(store Store, reporter *commission.Reporter, aggregator *commission.Aggregator, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		Store:      store,
		Reporter:   reporter,
		Aggregator: aggregator,
		Logger:     logger.WithField("component", "api"),
		Clock:      time.Now,
		NewID:      uuid.NewString,
	}
}

var validate = validator.New()

// =============================================================================
// LIFECYCLE HANDLERS
// =============================================================================

// RunLifecycle executes one lifecycle pass.
// POST /api/lifecycle/run?triggeredBy=manual|cron
//
// Partial failures still answer 200 with the per-item errors listed; only a
// run-level failure answers 500.
func (h *Handler) RunLifecycle(w http.ResponseWriter, r *http.Request) {
	trigger := commission.TriggeredByManual
	if v := r.URL.Query().Get("triggeredBy"); v != "" {
		trigger = commission.TriggeredBy(v)
	}

	// The run keeps going if the caller disconnects; its own budget bounds it.
	ctx := context.WithoutCancel(r.Context())
	summary, err := h.Reporter.Run(ctx, h.Clock().UTC(), trigger)
	if err != nil {
		h.writeDomainError(w, "Lifecycle run failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toRunSummaryDTO(summary))
}

// ListExecutions returns execution history, newest first.
// GET /api/lifecycle/executions?limit=20&offset=0
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	req, err := parsePageRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid pagination", err)
		return
	}

	page, err := h.Reporter.History(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to list executions", err)
		return
	}

	writeJSON(w, http.StatusOK, toExecutionHistoryResponse(page))
}

func parsePageRequest(r *http.Request) (commission.PageRequest, error) {
	req := commission.PageRequest{Limit: commission.DefaultPageLimit}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errors.New("limit must be an integer")
		}
		req.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, errors.New("offset must be an integer")
		}
		req.Offset = n
	}
	return req, nil
}

// =============================================================================
// AGENT HANDLERS
// =============================================================================

// ListCommissions returns the calling agent's commissions.
// GET /api/agents/me/commissions?status=available
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	agentID, _ := AgentFromContext(r.Context())

	var filter *commission.Status
	if v := r.URL.Query().Get("status"); v != "" {
		st := commission.Status(v)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown status", nil)
			return
		}
		filter = &st
	}

	cs, err := h.Store.ListAgentCommissions(r.Context(), agentID, filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list commissions", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"commissions": toCommissionDTOs(cs)})
}

// GetStats returns the agent dashboard summary.
// GET /api/agents/me/commissions/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	agentID, _ := AgentFromContext(r.Context())

	cs, err := h.Store.ListAgentCommissions(r.Context(), agentID, nil)
	if err != nil {
		h.writeDomainError(w, "Failed to load commissions", err)
		return
	}

	stats := commission.Summarize(cs, h.Clock().UTC())
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// CreatePayout claims every available commission of the calling agent.
// POST /api/agents/me/payouts
func (h *Handler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	agentID, _ := AgentFromContext(r.Context())

	result, err := h.Aggregator.CreatePayout(r.Context(), agentID)
	if err != nil {
		h.writeDomainError(w, "Failed to create payout", err)
		return
	}

	if result.Outcome == commission.PayoutNothingAvailable {
		writeJSON(w, http.StatusOK, PayoutResponse{Status: string(result.Outcome)})
		return
	}

	payout := toPayoutDTO(*result.Payout)
	writeJSON(w, http.StatusCreated, PayoutResponse{
		Status:    string(result.Outcome),
		Payout:    &payout,
		Breakdown: &payout.Breakdown,
	})
}

// ListPayouts returns the calling agent's payouts, newest first.
// GET /api/agents/me/payouts
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	agentID, _ := AgentFromContext(r.Context())

	payouts, err := h.Store.ListPayouts(r.Context(), agentID)
	if err != nil {
		h.writeDomainError(w, "Failed to list payouts", err)
		return
	}

	dtos := make([]PayoutDTO, len(payouts))
	for i, p := range payouts {
		dtos[i] = toPayoutDTO(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": dtos})
}

// GetPayout returns one payout. Another agent's payout is reported as
// missing.
// GET /api/agents/me/payouts/{id}
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	agentID, _ := AgentFromContext(r.Context())
	id := commission.PayoutID(chi.URLParam(r, "id"))

	p, err := h.Store.GetPayout(r.Context(), id)
	if err == nil && p.AgentID != agentID {
		err = commission.ErrPayoutNotFound
	}
	if err != nil {
		h.writeDomainError(w, "Failed to get payout", err)
		return
	}

	writeJSON(w, http.StatusOK, toPayoutDTO(p))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateBooking upserts a booking record.
// POST /api/admin/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	start, err := parseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid startDate", err)
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid endDate", err)
		return
	}
	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total", err)
		return
	}

	b := commission.Booking{
		ID:        commission.BookingID(req.ID),
		Status:    commission.BookingStatus(req.Status),
		StartDate: start,
		EndDate:   end,
		Total:     total,
	}
	if err := h.Store.SaveBooking(r.Context(), b); err != nil {
		h.writeDomainError(w, "Failed to save booking", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookingDTO(b))
}

// CreateCommission registers a pending commission for a confirmed booking.
// POST /api/admin/commissions
func (h *Handler) CreateCommission(w http.ResponseWriter, r *http.Request) {
	var req CreateCommissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}
	components, err := req.components()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid commission amount", err)
		return
	}

	ctx := r.Context()
	booking, err := h.Store.GetBooking(ctx, commission.BookingID(req.BookingID))
	if err != nil {
		h.writeDomainError(w, "Failed to load booking", err)
		return
	}

	id := req.ID
	if id == "" {
		id = h.NewID()
	}
	c, err := commission.NewFromBooking(commission.CommissionID(id), commission.AgentID(req.AgentID), booking, components, h.Clock().UTC())
	if err != nil {
		h.writeDomainError(w, "Invalid commission", err)
		return
	}
	if err := h.Store.CreateCommission(ctx, c); err != nil {
		h.writeDomainError(w, "Failed to create commission", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCommissionDTO(c))
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
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

// writeDomainError maps commission errors onto HTTP statuses. Anything
// unrecognised is a 500 and gets logged.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case commission.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, commission.ErrDuplicateBooking),
		errors.Is(err, commission.ErrConcurrentModification):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, commission.ErrAgentRequired):
		writeError(w, http.StatusUnauthorized, message, err)
	case commission.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.WithError(err).Error(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
