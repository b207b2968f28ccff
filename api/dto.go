/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Money leaves the
  service as fixed two-decimal strings so clients never see float drift.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry validator tags; handlers call validate.Struct before
  converting to domain values.

SEE ALSO:
  - handlers.go: Uses these types
  - commission/types.go: Domain model
*/
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateBookingRequest upserts a booking record (dev/test booking source).
type CreateBookingRequest struct {
	ID        string `json:"id" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=pending confirmed cancelled refunded"`
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate" validate:"required"`
	Total     string `json:"total" validate:"required,numeric"`
}

// CreateCommissionRequest registers a pending commission for a booking.
// ID is generated when empty.
type CreateCommissionRequest struct {
	ID        string `json:"id"`
	BookingID string `json:"bookingId" validate:"required"`
	AgentID   string `json:"agentId" validate:"required"`
	Flight    string `json:"flightCommission" validate:"omitempty,numeric"`
	Hotel     string `json:"hotelCommission" validate:"omitempty,numeric"`
	Activity  string `json:"activityCommission" validate:"omitempty,numeric"`
	Transfer  string `json:"transferCommission" validate:"omitempty,numeric"`
	Other     string `json:"otherCommission" validate:"omitempty,numeric"`
}

func (r CreateCommissionRequest) components() (commission.Components, error) {
	var c commission.Components
	var err error
	if c.Flight, err = parseAmount(r.Flight); err != nil {
		return c, err
	}
	if c.Hotel, err = parseAmount(r.Hotel); err != nil {
		return c, err
	}
	if c.Activity, err = parseAmount(r.Activity); err != nil {
		return c, err
	}
	if c.Transfer, err = parseAmount(r.Transfer); err != nil {
		return c, err
	}
	if c.Other, err = parseAmount(r.Other); err != nil {
		return c, err
	}
	return c, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

// parseDate accepts YYYY-MM-DD or RFC3339 and returns UTC.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// CommissionDTO represents a commission in API responses.
type CommissionDTO struct {
	ID                 string  `json:"id"`
	BookingID          string  `json:"bookingId"`
	AgentID            string  `json:"agentId"`
	Status             string  `json:"status"`
	BookingTotal       string  `json:"bookingTotal"`
	FlightCommission   string  `json:"flightCommission"`
	HotelCommission    string  `json:"hotelCommission"`
	ActivityCommission string  `json:"activityCommission"`
	TransferCommission string  `json:"transferCommission"`
	OtherCommission    string  `json:"otherCommission"`
	TotalCommission    string  `json:"totalCommission"`
	TripStartDate      string  `json:"tripStartDate"`
	TripEndDate        string  `json:"tripEndDate"`
	HoldUntilDate      *string `json:"holdUntilDate,omitempty"`
	ReleasedAt         *string `json:"releasedAt,omitempty"`
	PayoutID           *string `json:"payoutId,omitempty"`
	CreatedAt          string  `json:"createdAt"`
	UpdatedAt          string  `json:"updatedAt"`
}

func toCommissionDTO(c commission.Commission) CommissionDTO {
	dto := CommissionDTO{
		ID:                 string(c.ID),
		BookingID:          string(c.BookingID),
		AgentID:            string(c.AgentID),
		Status:             string(c.Status),
		BookingTotal:       money(c.BookingTotal),
		FlightCommission:   money(c.Components.Flight),
		HotelCommission:    money(c.Components.Hotel),
		ActivityCommission: money(c.Components.Activity),
		TransferCommission: money(c.Components.Transfer),
		OtherCommission:    money(c.Components.Other),
		TotalCommission:    money(c.Total()),
		TripStartDate:      timestamp(c.TripStartDate),
		TripEndDate:        timestamp(c.TripEndDate),
		HoldUntilDate:      optionalTimestamp(c.HoldUntilDate),
		ReleasedAt:         optionalTimestamp(c.ReleasedAt),
		CreatedAt:          timestamp(c.CreatedAt),
		UpdatedAt:          timestamp(c.UpdatedAt),
	}
	if c.PayoutID != nil {
		id := string(*c.PayoutID)
		dto.PayoutID = &id
	}
	return dto
}

func toCommissionDTOs(cs []commission.Commission) []CommissionDTO {
	dtos := make([]CommissionDTO, len(cs))
	for i, c := range cs {
		dtos[i] = toCommissionDTO(c)
	}
	return dtos
}

// BookingDTO represents a booking record.
type BookingDTO struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Total     string `json:"total"`
}

func toBookingDTO(b commission.Booking) BookingDTO {
	return BookingDTO{
		ID:        string(b.ID),
		Status:    string(b.Status),
		StartDate: timestamp(b.StartDate),
		EndDate:   timestamp(b.EndDate),
		Total:     money(b.Total),
	}
}

// BreakdownDTO is the per-category split of a payout.
type BreakdownDTO struct {
	Flight            string `json:"flight"`
	Hotel             string `json:"hotel"`
	Activity          string `json:"activity"`
	Transfer          string `json:"transfer"`
	Other             string `json:"other"`
	TotalBookingValue string `json:"totalBookingValue"`
	TotalCommissions  int    `json:"totalCommissions"`
}

func toBreakdownDTO(b commission.Breakdown) BreakdownDTO {
	return BreakdownDTO{
		Flight:            money(b.Flight),
		Hotel:             money(b.Hotel),
		Activity:          money(b.Activity),
		Transfer:          money(b.Transfer),
		Other:             money(b.Other),
		TotalBookingValue: money(b.TotalBookingValue),
		TotalCommissions:  b.TotalCommissions,
	}
}

// PayoutDTO represents an agent payout.
type PayoutDTO struct {
	ID                  string       `json:"id"`
	AgentID             string       `json:"agentId"`
	TotalAmount         string       `json:"totalAmount"`
	CommissionsIncluded []string     `json:"commissionsIncluded"`
	Breakdown           BreakdownDTO `json:"breakdown"`
	CreatedAt           string       `json:"createdAt"`
}

func toPayoutDTO(p commission.Payout) PayoutDTO {
	ids := make([]string, len(p.CommissionIDs))
	for i, id := range p.CommissionIDs {
		ids[i] = string(id)
	}
	return PayoutDTO{
		ID:                  string(p.ID),
		AgentID:             string(p.AgentID),
		TotalAmount:         money(p.TotalAmount),
		CommissionsIncluded: ids,
		Breakdown:           toBreakdownDTO(p.Breakdown),
		CreatedAt:           timestamp(p.CreatedAt),
	}
}

// PayoutResponse is returned by POST /api/agents/me/payouts.
type PayoutResponse struct {
	Status    string        `json:"status"`
	Payout    *PayoutDTO    `json:"payout,omitempty"`
	Breakdown *BreakdownDTO `json:"breakdown,omitempty"`
}

// RunSummaryDTO is the lifecycle run response.
type RunSummaryDTO struct {
	TripsStarted        int      `json:"tripsStarted"`
	TripsCompleted      int      `json:"tripsCompleted"`
	CommissionsReleased int      `json:"commissionsReleased"`
	Errors              []string `json:"errors,omitempty"`
	Truncated           bool     `json:"truncated,omitempty"`
}

func toRunSummaryDTO(s commission.Summary) RunSummaryDTO {
	return RunSummaryDTO{
		TripsStarted:        s.TripsStarted,
		TripsCompleted:      s.TripsCompleted,
		CommissionsReleased: s.CommissionsReleased,
		Errors:              s.Errors,
		Truncated:           s.Truncated,
	}
}

// ExecutionLogDTO represents one persisted lifecycle run.
type ExecutionLogDTO struct {
	ID                  string   `json:"id"`
	ExecutionTime       string   `json:"executionTime"`
	ItemsChecked        int      `json:"itemsChecked"`
	ItemsTransitioned   int      `json:"itemsTransitioned"`
	ItemsFailed         int      `json:"itemsFailed"`
	TripsStarted        int      `json:"tripsStarted"`
	TripsCompleted      int      `json:"tripsCompleted"`
	CommissionsReleased int      `json:"commissionsReleased"`
	DurationMs          int64    `json:"durationMs"`
	TriggeredBy         string   `json:"triggeredBy"`
	Errors              []string `json:"errors,omitempty"`
	Truncated           bool     `json:"truncated"`
}

func toExecutionLogDTO(l commission.ExecutionLog) ExecutionLogDTO {
	return ExecutionLogDTO{
		ID:                  l.ID,
		ExecutionTime:       timestamp(l.ExecutionTime),
		ItemsChecked:        l.ItemsChecked,
		ItemsTransitioned:   l.ItemsTransitioned,
		ItemsFailed:         l.ItemsFailed,
		TripsStarted:        l.TripsStarted,
		TripsCompleted:      l.TripsCompleted,
		CommissionsReleased: l.CommissionsReleased,
		DurationMs:          l.DurationMs(),
		TriggeredBy:         string(l.TriggeredBy),
		Errors:              l.Errors,
		Truncated:           l.Truncated,
	}
}

// PaginationDTO mirrors commission.Pagination.
type PaginationDTO struct {
	Total           int  `json:"total"`
	Limit           int  `json:"limit"`
	Offset          int  `json:"offset"`
	CurrentPage     int  `json:"currentPage"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// ExecutionHistoryResponse is returned by GET /api/lifecycle/executions.
type ExecutionHistoryResponse struct {
	Logs       []ExecutionLogDTO `json:"logs"`
	Pagination PaginationDTO     `json:"pagination"`
}

func toExecutionHistoryResponse(page commission.HistoryPage) ExecutionHistoryResponse {
	logs := make([]ExecutionLogDTO, len(page.Logs))
	for i, l := range page.Logs {
		logs[i] = toExecutionLogDTO(l)
	}
	p := page.Pagination
	return ExecutionHistoryResponse{
		Logs: logs,
		Pagination: PaginationDTO{
			Total:           p.Total,
			Limit:           p.Limit,
			Offset:          p.Offset,
			CurrentPage:     p.CurrentPage,
			TotalPages:      p.TotalPages,
			HasNextPage:     p.HasNextPage,
			HasPreviousPage: p.HasPreviousPage,
		},
	}
}

// StatsDTO is the agent dashboard summary.
type StatsDTO struct {
	Counts                map[string]int    `json:"counts"`
	TotalEarnings         string            `json:"totalEarnings"`
	PendingAmount         string            `json:"pendingAmount"`
	AvailableAmount       string            `json:"availableAmount"`
	PaidAmount            string            `json:"paidAmount"`
	Categories            CategoryTotalsDTO `json:"categories"`
	AverageCommission     string            `json:"averageCommission"`
	UpcomingReleases      int               `json:"upcomingReleases"`
	UpcomingReleaseAmount string            `json:"upcomingReleaseAmount"`
}

// CategoryTotalsDTO sums commission components by category.
type CategoryTotalsDTO struct {
	Flight   string `json:"flight"`
	Hotel    string `json:"hotel"`
	Activity string `json:"activity"`
	Transfer string `json:"transfer"`
	Other    string `json:"other"`
}

func toStatsDTO(s commission.Stats) StatsDTO {
	counts := make(map[string]int, len(s.Count))
	for st, n := range s.Count {
		counts[string(st)] = n
	}
	return StatsDTO{
		Counts:          counts,
		TotalEarnings:   money(s.TotalEarnings),
		PendingAmount:   money(s.PendingAmount),
		AvailableAmount: money(s.AvailableAmount),
		PaidAmount:      money(s.PaidAmount),
		Categories: CategoryTotalsDTO{
			Flight:   money(s.Categories.Flight),
			Hotel:    money(s.Categories.Hotel),
			Activity: money(s.Categories.Activity),
			Transfer: money(s.Categories.Transfer),
			Other:    money(s.Categories.Other),
		},
		AverageCommission:     money(s.AverageCommission),
		UpcomingReleases:      s.UpcomingReleases,
		UpcomingReleaseAmount: money(s.UpcomingReleaseAmount),
	}
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// FORMATTING
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func optionalTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timestamp(*t)
	return &s
}
