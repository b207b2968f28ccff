/*
notify.go - Payout notification fan-out

PURPOSE:
  Delivers "payout created" events after the payout transaction commits.
  Delivery never affects the payout itself; the aggregator only logs
  failures returned from here.

IMPLEMENTATIONS:
  Log    - writes a structured log line (always on)
  SMTP   - emails finance via gomail
  Kafka  - publishes a JSON event keyed by agent id
  Multi  - calls each notifier in order and joins the errors

SEE ALSO:
  - commission/payout.go: Notifier interface and call site
  - cmd/server/main.go: selection from config
*/
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/commission-engine/commission"
)

// PayoutCreatedEvent is the wire shape shared by the SMTP body and the
// Kafka message value.
type PayoutCreatedEvent struct {
	EventType       string    `json:"eventType"`
	PayoutID        string    `json:"payoutId"`
	AgentID         string    `json:"agentId"`
	TotalAmount     string    `json:"totalAmount"`
	CommissionCount int       `json:"commissionCount"`
	CommissionIDs   []string  `json:"commissionIds"`
	Flight          string    `json:"flight"`
	Hotel           string    `json:"hotel"`
	Activity        string    `json:"activity"`
	Transfer        string    `json:"transfer"`
	Other           string    `json:"other"`
	BookingValue    string    `json:"totalBookingValue"`
	CreatedAt       time.Time `json:"createdAt"`
}

const EventPayoutCreated = "commission.payout_created"

func NewPayoutCreatedEvent(p commission.Payout) PayoutCreatedEvent {
	ids := make([]string, len(p.CommissionIDs))
	for i, id := range p.CommissionIDs {
		ids[i] = string(id)
	}
	b := p.Breakdown
	return PayoutCreatedEvent{
		EventType:       EventPayoutCreated,
		PayoutID:        string(p.ID),
		AgentID:         string(p.AgentID),
		TotalAmount:     p.TotalAmount.StringFixed(2),
		CommissionCount: b.TotalCommissions,
		CommissionIDs:   ids,
		Flight:          b.Flight.StringFixed(2),
		Hotel:           b.Hotel.StringFixed(2),
		Activity:        b.Activity.StringFixed(2),
		Transfer:        b.Transfer.StringFixed(2),
		Other:           b.Other.StringFixed(2),
		BookingValue:    b.TotalBookingValue.StringFixed(2),
		CreatedAt:       p.CreatedAt.UTC(),
	}
}

// =============================================================================
// LOG
// =============================================================================

type LogNotifier struct {
	logger logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{logger: logger.WithField("component", "notify")}
}

func (n *LogNotifier) PayoutCreated(_ context.Context, p commission.Payout) error {
	n.logger.WithFields(logrus.Fields{
		"payout_id":   p.ID,
		"agent_id":    p.AgentID,
		"total":       p.TotalAmount.StringFixed(2),
		"commissions": len(p.CommissionIDs),
	}).Info("payout created")
	return nil
}

// =============================================================================
// MULTI
// =============================================================================

// Multi delivers to every notifier even if an earlier one fails.
type Multi []commission.Notifier

func (m Multi) PayoutCreated(ctx context.Context, p commission.Payout) error {
	var errs []error
	for _, n := range m {
		if err := n.PayoutCreated(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
