/*
payout.go - Payout aggregation

PURPOSE:
  Bundles every available commission of one agent into a single payout.
  Selecting the commissions, writing the payout and flipping each
  commission to paid_out happen in one PayoutStore transaction: either the
  payout exists and all of its commissions are paid_out with its id, or
  nothing changed.

  Two simultaneous requests for the same agent cannot both claim a
  commission: MarkPaidOut is conditional on status = available, and a lost
  claim aborts the whole transaction with ErrConcurrentModification.

  An agent with nothing available gets PayoutNothingAvailable, not an error.

NOTIFICATION:
  After commit the Notifier is told about the payout. A notification
  failure is logged; the payout stands.
*/
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Notifier is informed of committed payouts.
type Notifier interface {
	PayoutCreated(ctx context.Context, p Payout) error
}

// Aggregator creates payouts on an agent's request.
type Aggregator struct {
	Payouts  PayoutStore
	Notifier Notifier // optional
	Logger   logrus.FieldLogger
	Clock    func() time.Time
	NewID    func() string
}

// NewAggregator creates an Aggregator. notifier may be nil.
func NewAggregator(payouts PayoutStore, notifier Notifier, logger logrus.FieldLogger) *Aggregator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Aggregator{
		Payouts:  payouts,
		Notifier: notifier,
		Logger:   logger.WithField("component", "payout"),
		Clock:    func() time.Time { return time.Now().UTC() },
		NewID:    uuid.NewString,
	}
}

// PayoutOutcome says whether a payout request produced a payout.
type PayoutOutcome string

const (
	PayoutCreated          PayoutOutcome = "created"
	PayoutNothingAvailable PayoutOutcome = "nothing_available"
)

// PayoutResult is the answer to a payout request. Payout is nil when
// Outcome is PayoutNothingAvailable.
type PayoutResult struct {
	Outcome PayoutOutcome
	Payout  *Payout
}

// CreatePayout claims every available commission of agentID.
func (a *Aggregator) CreatePayout(ctx context.Context, agentID AgentID) (PayoutResult, error) {
	if agentID == "" {
		return PayoutResult{}, ErrAgentRequired
	}

	now := a.Clock()
	var created *Payout

	err := a.Payouts.WithPayoutTx(ctx, func(tx PayoutTx) error {
		available, err := tx.ListAvailable(ctx, agentID)
		if err != nil {
			return fmt.Errorf("list available commissions: %w", err)
		}
		if len(available) == 0 {
			return nil
		}

		breakdown := Aggregate(available)
		p := Payout{
			ID:            PayoutID(a.NewID()),
			AgentID:       agentID,
			CommissionIDs: make([]CommissionID, 0, len(available)),
			TotalAmount:   breakdown.Total(),
			Breakdown:     breakdown,
			CreatedAt:     now,
		}
		for _, c := range available {
			p.CommissionIDs = append(p.CommissionIDs, c.ID)
		}

		if err := tx.CreatePayout(ctx, p); err != nil {
			return fmt.Errorf("create payout: %w", err)
		}
		for _, id := range p.CommissionIDs {
			ok, err := tx.MarkPaidOut(ctx, id, p.ID, now)
			if err != nil {
				return fmt.Errorf("mark %s paid out: %w", id, err)
			}
			if !ok {
				return fmt.Errorf("claim %s: %w", id, ErrConcurrentModification)
			}
		}

		created = &p
		return nil
	})
	if err != nil {
		a.Logger.WithError(err).WithField("agent_id", agentID).Error("payout rolled back")
		return PayoutResult{}, err
	}

	if created == nil {
		a.Logger.WithField("agent_id", agentID).Info("no available commissions for payout")
		return PayoutResult{Outcome: PayoutNothingAvailable}, nil
	}

	a.Logger.WithFields(logrus.Fields{
		"agent_id":    agentID,
		"payout_id":   created.ID,
		"commissions": len(created.CommissionIDs),
		"total":       created.TotalAmount.StringFixed(2),
	}).Info("payout created")

	if a.Notifier != nil {
		if err := a.Notifier.PayoutCreated(ctx, *created); err != nil {
			a.Logger.WithError(err).WithField("payout_id", created.ID).Warn("payout notification failed")
		}
	}

	return PayoutResult{Outcome: PayoutCreated, Payout: created}, nil
}

// Aggregate sums the given commissions. It does not recompute any
// commission's own values.
func Aggregate(commissions []Commission) Breakdown {
	b := Breakdown{
		Components:        zeroComponents(),
		TotalBookingValue: decimal.Zero,
	}
	for _, c := range commissions {
		b.Components = b.Components.Add(c.Components)
		b.TotalBookingValue = b.TotalBookingValue.Add(c.BookingTotal)
		b.TotalCommissions++
	}
	return b
}

func zeroComponents() Components {
	return Components{
		Flight:   decimal.Zero,
		Hotel:    decimal.Zero,
		Activity: decimal.Zero,
		Transfer: decimal.Zero,
		Other:    decimal.Zero,
	}
}
