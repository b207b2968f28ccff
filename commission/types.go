/*
Package commission provides the commission lifecycle and payout engine.

PURPOSE:
  An agent earns a commission when a customer's booking is confirmed. The
  commission is not payable yet: it follows the customer's trip through a
  fixed sequence of states and only becomes payable once the trip is over
  and a hold period has elapsed. Payable commissions are then bundled into
  payouts on the agent's request.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status: the forward-only lifecycle state of a commission
  - Components: per-category commission amounts (flight, hotel, ...)
  - Commission: the ledger row owned by this engine
  - Booking: the read-only view of the external booking record
  - Payout / Breakdown: a batch of released commissions for one agent
  - ExecutionLog: the audit record of one lifecycle run

LIFECYCLE:
  pending -> trip_in_progress -> trip_completed -> in_hold_period -> available -> paid_out

  Everything up to "available" is written by the Processor (lifecycle.go).
  "available -> paid_out" is written only by the Aggregator (payout.go).

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64
  2. Forward-only: Status.Rank() never decreases for a commission
  3. Stable inputs: trip dates are copied from the booking at creation
  4. Never deleted: commissions are financial records

SEE ALSO:
  - store.go: persistence ports
  - lifecycle.go: the state machine
  - payout.go: payout aggregation
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CommissionID string
type BookingID string
type AgentID string
type PayoutID string

// =============================================================================
// STATUS - Forward-only lifecycle state
// =============================================================================

type Status string

const (
	StatusPending        Status = "pending"
	StatusTripInProgress Status = "trip_in_progress"
	StatusTripCompleted  Status = "trip_completed"
	StatusInHoldPeriod   Status = "in_hold_period"
	StatusAvailable      Status = "available"
	StatusPaidOut        Status = "paid_out"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusTripInProgress,
	StatusTripCompleted,
	StatusInHoldPeriod,
	StatusAvailable,
	StatusPaidOut,
}

// Rank is the position of the status in the lifecycle. Transitions must
// strictly increase it.
func (s Status) Rank() int {
	for i, st := range AllStatuses {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Status) Valid() bool { return s.Rank() >= 0 }

// Terminal reports whether the Processor is done with this status.
func (s Status) Terminal() bool { return s == StatusAvailable || s == StatusPaidOut }

// Released reports whether releasedAt must be set for this status.
func (s Status) Released() bool { return s == StatusAvailable || s == StatusPaidOut }

// =============================================================================
// COMPONENTS - Per-category commission amounts
// =============================================================================

// Components are the category amounts that make up a commission's value.
// They are fixed when the commission is created.
type Components struct {
	Flight   decimal.Decimal
	Hotel    decimal.Decimal
	Activity decimal.Decimal
	Transfer decimal.Decimal
	Other    decimal.Decimal
}

// Total is the commission value.
func (c Components) Total() decimal.Decimal {
	return c.Flight.Add(c.Hotel).Add(c.Activity).Add(c.Transfer).Add(c.Other)
}

func (c Components) Add(o Components) Components {
	return Components{
		Flight:   c.Flight.Add(o.Flight),
		Hotel:    c.Hotel.Add(o.Hotel),
		Activity: c.Activity.Add(o.Activity),
		Transfer: c.Transfer.Add(o.Transfer),
		Other:    c.Other.Add(o.Other),
	}
}

func (c Components) anyNegative() bool {
	return c.Flight.IsNegative() || c.Hotel.IsNegative() || c.Activity.IsNegative() ||
		c.Transfer.IsNegative() || c.Other.IsNegative()
}

// =============================================================================
// COMMISSION
// =============================================================================

// Commission is the amount owed to an agent for one booking.
//
// INVARIANTS:
//   - ReleasedAt != nil  <=>  Status is available or paid_out
//   - ReleasedAt >= HoldUntilDate
//   - HoldUntilDate is written once, on the way into in_hold_period
//   - PayoutID is written once, together with Status = paid_out
type Commission struct {
	ID            CommissionID
	BookingID     BookingID
	AgentID       AgentID
	Status        Status
	BookingTotal  decimal.Decimal
	Components    Components
	TripStartDate time.Time
	TripEndDate   time.Time
	HoldUntilDate *time.Time
	ReleasedAt    *time.Time
	PayoutID      *PayoutID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Total is the commission value (sum of the components).
func (c Commission) Total() decimal.Decimal { return c.Components.Total() }

// =============================================================================
// BOOKING - Read-only view of the external booking record
// =============================================================================

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingRefunded  BookingStatus = "refunded"
)

type Booking struct {
	ID        BookingID
	Status    BookingStatus
	StartDate time.Time
	EndDate   time.Time
	Total     decimal.Decimal
}

func (b Booking) Confirmed() bool { return b.Status == BookingConfirmed }

// =============================================================================
// PAYOUT
// =============================================================================

// Breakdown aggregates the commissions included in a payout.
type Breakdown struct {
	Components
	TotalBookingValue decimal.Decimal
	TotalCommissions  int
}

// Payout bundles every available commission of one agent at creation time.
type Payout struct {
	ID            PayoutID
	AgentID       AgentID
	CommissionIDs []CommissionID // in inclusion order
	TotalAmount   decimal.Decimal
	Breakdown     Breakdown
	CreatedAt     time.Time
}

// =============================================================================
// EXECUTION LOG
// =============================================================================

type TriggeredBy string

const (
	TriggeredByCron   TriggeredBy = "cron"
	TriggeredByManual TriggeredBy = "manual"
)

func (t TriggeredBy) Valid() bool { return t == TriggeredByCron || t == TriggeredByManual }

// ExecutionLog is the audit row written once per completed lifecycle run.
type ExecutionLog struct {
	ID                  string
	ExecutionTime       time.Time
	ItemsChecked        int
	ItemsTransitioned   int
	ItemsFailed         int
	TripsStarted        int
	TripsCompleted      int
	CommissionsReleased int
	Duration            time.Duration
	TriggeredBy         TriggeredBy
	Errors              []string // nil when the run had no item failures
	Truncated           bool
}

func (l ExecutionLog) DurationMs() int64 { return l.Duration.Milliseconds() }
