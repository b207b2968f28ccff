/*
handlers_test.go - HTTP tests for the commission API

Tests for:
- Lifecycle run and execution history endpoints
- Agent payout creation, listing and lookup
- Admin intake of bookings and commissions
- Session, operator token and throttling middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/store/sqlite"
)

var tripStart = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type testServer struct {
	store   *sqlite.Store
	handler *Handler
	router  http.Handler
	now     time.Time
}

func newTestServer(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger, _ := test.NewNullLogger()
	ts := &testServer{store: store, now: tripStart.AddDate(0, 0, -1)}
	clock := func() time.Time { return ts.now }

	processor := commission.NewProcessor(store, store, commission.DefaultHoldPolicy(), logger)
	reporter := commission.NewReporter(processor, store, logger)
	aggregator := commission.NewAggregator(store, nil, logger)
	aggregator.Clock = clock

	ts.handler = NewHandler(store, reporter, aggregator, logger)
	ts.handler.Clock = clock
	if cfg.TriggerRatePerMinute == 0 {
		cfg.TriggerRatePerMinute = 1000
	}
	cfg.Logger = logger
	ts.router = NewRouter(ts.handler, cfg)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func asAgent(id string) map[string]string { return map[string]string{AgentHeader: id} }

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed registers a confirmed booking (T..T+5d) and a commission through the API.
func (ts *testServer) seed(t *testing.T, id, agent, flight, hotel, total string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/admin/bookings", CreateBookingRequest{
		ID: "bk-" + id, Status: "confirmed",
		StartDate: tripStart.Format(time.RFC3339), EndDate: tripStart.AddDate(0, 0, 5).Format(time.RFC3339),
		Total: total,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/admin/commissions", CreateCommissionRequest{
		ID: id, BookingID: "bk-" + id, AgentID: agent, Flight: flight, Hotel: hotel,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (ts *testServer) runAt(t *testing.T, daysAfterStart int) RunSummaryDTO {
	t.Helper()
	ts.now = tripStart.AddDate(0, 0, daysAfterStart)
	rec := ts.do(t, http.MethodPost, "/api/lifecycle/run", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[RunSummaryDTO](t, rec)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestRunLifecycle_EndToEnd(t *testing.T) {
	// GIVEN: A commission for a T..T+5d trip
	ts := newTestServer(t, RouterConfig{})
	ts.seed(t, "c1", "agent-1", "40", "10", "500")

	// WHEN/THEN: Runs across the timeline report each step once
	assert.Equal(t, RunSummaryDTO{}, ts.runAt(t, -1))
	assert.Equal(t, RunSummaryDTO{TripsStarted: 1}, ts.runAt(t, 1))
	assert.Equal(t, RunSummaryDTO{TripsCompleted: 1}, ts.runAt(t, 6))
	assert.Equal(t, RunSummaryDTO{}, ts.runAt(t, 18))
	assert.Equal(t, RunSummaryDTO{CommissionsReleased: 1}, ts.runAt(t, 20))

	rec := ts.do(t, http.MethodGet, "/api/agents/me/commissions?status=available", nil, asAgent("agent-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Commissions []CommissionDTO `json:"commissions"`
	}](t, rec)
	require.Len(t, body.Commissions, 1)
	c := body.Commissions[0]
	assert.Equal(t, "50.00", c.TotalCommission)
	require.NotNil(t, c.HoldUntilDate)
	assert.Equal(t, tripStart.AddDate(0, 0, 19).Format(time.RFC3339), *c.HoldUntilDate)
	require.NotNil(t, c.ReleasedAt)
	assert.Equal(t, tripStart.AddDate(0, 0, 20).Format(time.RFC3339), *c.ReleasedAt)
}

func TestRunLifecycle_ReportsItemErrors(t *testing.T) {
	// GIVEN: A commission whose booking row is gone
	ts := newTestServer(t, RouterConfig{})
	ts.seed(t, "c1", "agent-1", "10", "", "100")
	ctx := context.Background()
	c, err := ts.store.GetCommission(ctx, "c1")
	require.NoError(t, err)
	orphan := c
	orphan.ID, orphan.BookingID = "orphan", "bk-missing"
	require.NoError(t, ts.store.CreateCommission(ctx, orphan))

	// WHEN
	summary := ts.runAt(t, 1)

	// THEN: 200 with one started and one error listed
	assert.Equal(t, 1, summary.TripsStarted)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "orphan")
}

func TestRunLifecycle_InvalidTrigger(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	rec := ts.do(t, http.MethodPost, "/api/lifecycle/run?triggeredBy=webhook", nil, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListExecutions_Pagination(t *testing.T) {
	// GIVEN: Three runs
	ts := newTestServer(t, RouterConfig{})
	for d := range 3 {
		ts.runAt(t, d)
	}

	// WHEN
	rec := ts.do(t, http.MethodGet, "/api/lifecycle/executions?limit=2&offset=0", nil, nil)

	// THEN
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[ExecutionHistoryResponse](t, rec)
	require.Len(t, body.Logs, 2)
	assert.Equal(t, "manual", body.Logs[0].TriggeredBy)
	assert.Equal(t, tripStart.AddDate(0, 0, 2).Format(time.RFC3339), body.Logs[0].ExecutionTime)
	assert.Equal(t, PaginationDTO{
		Total: 3, Limit: 2, Offset: 0, CurrentPage: 1, TotalPages: 2,
		HasNextPage: true, HasPreviousPage: false,
	}, body.Pagination)
}

func TestListExecutions_RejectsBadPagination(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	for _, q := range []string{"limit=0", "limit=101", "offset=-1", "limit=abc"} {
		rec := ts.do(t, http.MethodGet, "/api/lifecycle/executions?"+q, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

// =============================================================================
// PAYOUTS
// =============================================================================

func TestCreatePayout_FlowAndViews(t *testing.T) {
	// GIVEN: Three released commissions worth 50, 30, 20
	ts := newTestServer(t, RouterConfig{})
	ts.seed(t, "a", "agent-1", "40", "10", "500")
	ts.seed(t, "b", "agent-1", "30", "", "300")
	ts.seed(t, "c", "agent-1", "5", "15", "200")
	ts.seed(t, "other", "agent-2", "99", "", "990")
	for _, d := range []int{1, 6, 20} {
		ts.runAt(t, d)
	}

	// WHEN: agent-1 requests a payout
	rec := ts.do(t, http.MethodPost, "/api/agents/me/payouts", nil, asAgent("agent-1"))

	// THEN
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[PayoutResponse](t, rec)
	assert.Equal(t, "created", resp.Status)
	require.NotNil(t, resp.Payout)
	assert.Equal(t, "100.00", resp.Payout.TotalAmount)
	require.NotNil(t, resp.Breakdown)
	assert.Equal(t, "1000.00", resp.Breakdown.TotalBookingValue)
	assert.Equal(t, 3, resp.Breakdown.TotalCommissions)
	assert.Equal(t, "75.00", resp.Breakdown.Flight)
	assert.Equal(t, "25.00", resp.Breakdown.Hotel)

	// AND: A second request finds nothing
	rec = ts.do(t, http.MethodPost, "/api/agents/me/payouts", nil, asAgent("agent-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nothing_available", decode[PayoutResponse](t, rec).Status)

	// AND: The payout is visible to its owner only
	rec = ts.do(t, http.MethodGet, "/api/agents/me/payouts/"+resp.Payout.ID, nil, asAgent("agent-1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/agents/me/payouts/"+resp.Payout.ID, nil, asAgent("agent-2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/agents/me/payouts", nil, asAgent("agent-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Payouts []PayoutDTO `json:"payouts"`
	}](t, rec)
	require.Len(t, list.Payouts, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, list.Payouts[0].CommissionsIncluded)

	// AND: Stats reflect the paid amount, agent-2 untouched
	rec = ts.do(t, http.MethodGet, "/api/agents/me/commissions/stats", nil, asAgent("agent-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsDTO](t, rec)
	assert.Equal(t, "100.00", stats.PaidAmount)
	assert.Equal(t, "0.00", stats.AvailableAmount)
	assert.Equal(t, 3, stats.Counts["paid_out"])

	rec = ts.do(t, http.MethodGet, "/api/agents/me/commissions/stats", nil, asAgent("agent-2"))
	assert.Equal(t, "99.00", decode[StatsDTO](t, rec).AvailableAmount)
}

func TestAgentRoutes_RequireSession(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	for _, path := range []string{"/api/agents/me/commissions", "/api/agents/me/payouts"} {
		rec := ts.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := ts.do(t, http.MethodPost, "/api/agents/me/payouts", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListCommissions_UnknownStatus(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	rec := ts.do(t, http.MethodGet, "/api/agents/me/commissions?status=refunded", nil, asAgent("agent-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ADMIN INTAKE
// =============================================================================

func TestCreateCommission_Validation(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})
	ts.seed(t, "c1", "agent-1", "10", "", "100")

	// Duplicate booking
	rec := ts.do(t, http.MethodPost, "/api/admin/commissions", CreateCommissionRequest{ID: "c2", BookingID: "bk-c1", AgentID: "agent-1", Flight: "5"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unknown booking
	rec = ts.do(t, http.MethodPost, "/api/admin/commissions", CreateCommissionRequest{BookingID: "bk-none", AgentID: "agent-1"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Missing agent
	rec = ts.do(t, http.MethodPost, "/api/admin/commissions", CreateCommissionRequest{BookingID: "bk-c1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Cancelled booking
	rec = ts.do(t, http.MethodPost, "/api/admin/bookings", CreateBookingRequest{ID: "bk-x", Status: "cancelled", StartDate: "2026-06-01", EndDate: "2026-06-03", Total: "10"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/admin/commissions", CreateCommissionRequest{BookingID: "bk-x", AgentID: "agent-1", Flight: "1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Negative component
	rec = ts.do(t, http.MethodPost, "/api/admin/bookings", CreateBookingRequest{ID: "bk-y", Status: "confirmed", StartDate: "2026-06-01", EndDate: "2026-06-03", Total: "10"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/admin/commissions", CreateCommissionRequest{BookingID: "bk-y", AgentID: "agent-1", Flight: "-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBooking_Validation(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	rec := ts.do(t, http.MethodPost, "/api/admin/bookings", CreateBookingRequest{ID: "bk", Status: "lost", StartDate: "2026-06-01", EndDate: "2026-06-02", Total: "1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/bookings", CreateBookingRequest{ID: "bk", Status: "confirmed", StartDate: "June 1st", EndDate: "2026-06-02", Total: "1"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestOperatorToken(t *testing.T) {
	ts := newTestServer(t, RouterConfig{OperatorToken: "s3cret"})

	rec := ts.do(t, http.MethodPost, "/api/lifecycle/run", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/lifecycle/run", nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/lifecycle/executions", nil, map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/bookings", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRunLifecycle_Throttled(t *testing.T) {
	ts := newTestServer(t, RouterConfig{TriggerRatePerMinute: 1})

	first := ts.do(t, http.MethodPost, "/api/lifecycle/run", nil, nil)
	second := ts.do(t, http.MethodPost, "/api/lifecycle/run", nil, nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))

	// History is not throttled
	rec := ts.do(t, http.MethodGet, "/api/lifecycle/executions", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, RouterConfig{})

	rec := ts.do(t, http.MethodGet, "/api/health", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
