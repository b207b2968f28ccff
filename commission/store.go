/*
store.go - Persistence ports for the commission engine

PURPOSE:
  Defines the interfaces between the engine and its storage. The engine
  never touches a database directly; everything goes through these ports so
  the state machine can be tested against the in-memory store.

KEY INTERFACES:
  Store:             Commission records (read, create, conditional transition)
  BookingReader:     Read-only access to the external booking store
  PayoutStore:       Payout records plus the atomic claim transaction
  ExecutionLogStore: Audit rows for lifecycle runs

COMPARE-AND-SWAP CONTRACT:
  TransitionCommission applies a change only if the stored status still
  equals Transition.From at write time. A writer that loses the race gets
  (false, nil) and must treat it as a no-op. This is what makes overlapping
  runs safe without a lock.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - commission/store/memory.go: in-memory for tests
*/
package commission

import (
	"context"
	"time"
)

// Transition is one conditional status change.
type Transition struct {
	ID   CommissionID
	From Status
	To   Status
	At   time.Time

	// Optional field writes applied together with the status change.
	HoldUntilDate *time.Time
	ReleasedAt    *time.Time
}

// Store handles commission persistence. There is no delete.
type Store interface {
	GetCommission(ctx context.Context, id CommissionID) (Commission, error)

	// ListActiveCommissions returns every commission not in a terminal status.
	ListActiveCommissions(ctx context.Context) ([]Commission, error)

	// ListAgentCommissions returns an agent's commissions, optionally
	// restricted to one status.
	ListAgentCommissions(ctx context.Context, agentID AgentID, status *Status) ([]Commission, error)

	// CreateCommission inserts a new commission. Fails with
	// ErrDuplicateBooking if the booking already has one.
	CreateCommission(ctx context.Context, c Commission) error

	// TransitionCommission is the compare-and-swap write. Returns whether
	// the change was applied.
	TransitionCommission(ctx context.Context, t Transition) (bool, error)
}

// BookingReader resolves the booking behind a commission.
type BookingReader interface {
	GetBooking(ctx context.Context, id BookingID) (Booking, error)
}

// PayoutTx is the view of the store inside a payout transaction.
type PayoutTx interface {
	ListAvailable(ctx context.Context, agentID AgentID) ([]Commission, error)
	CreatePayout(ctx context.Context, p Payout) error

	// MarkPaidOut moves one commission available -> paid_out and sets its
	// payout id. Returns false if it was no longer available.
	MarkPaidOut(ctx context.Context, id CommissionID, payoutID PayoutID, at time.Time) (bool, error)
}

// PayoutStore persists payouts.
type PayoutStore interface {
	// WithPayoutTx runs fn atomically. If fn returns an error nothing it
	// wrote is kept.
	WithPayoutTx(ctx context.Context, fn func(tx PayoutTx) error) error

	GetPayout(ctx context.Context, id PayoutID) (Payout, error)
	ListPayouts(ctx context.Context, agentID AgentID) ([]Payout, error)
}

// ExecutionLogStore persists run audit rows, newest first on read.
type ExecutionLogStore interface {
	SaveExecutionLog(ctx context.Context, l ExecutionLog) error
	ListExecutionLogs(ctx context.Context, limit, offset int) ([]ExecutionLog, int, error)
}
