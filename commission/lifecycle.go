/*
lifecycle.go - The commission state machine

PURPOSE:
  Advances every non-terminal commission by at most one step per run. All
  decisions in a run use the single "now" passed in by the caller; the
  clock is never read here.

TRANSITIONS:
  pending          now >= tripStartDate  -> trip_in_progress
  trip_in_progress now >= tripEndDate    -> trip_completed (sets holdUntilDate)
  trip_completed   immediately           -> in_hold_period
  in_hold_period   now >= holdUntilDate  -> available (sets releasedAt = now)
  available, paid_out                    terminal

  trip_completed is a transient marker: the same pass moves it on to
  in_hold_period. If a run dies between the two writes, the next run picks
  the commission up in trip_completed and finishes the move without
  counting it as completed a second time.

CANCELLED BOOKINGS:
  Before any transition the booking is re-read. If it is no longer
  confirmed the commission is frozen where it is, including commissions
  already in the hold period. A frozen commission is never released.

FAILURES:
  Each commission is independent. A lookup or write failure is recorded as
  an ItemError and the run moves on; the commission stays in its previous
  state and is retried by the next run. Only failing to list candidates at
  all aborts the run.

CONCURRENCY:
  Every write is a compare-and-swap on the expected prior status (see
  store.go). If an overlapping run already moved the commission, the write
  is a no-op and is not counted.
*/
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Processor runs the lifecycle state machine.
type Processor struct {
	Commissions Store
	Bookings    BookingReader
	Hold        HoldPolicy
	Logger      logrus.FieldLogger
}

// NewProcessor creates a processor with the given ports.
func NewProcessor(commissions Store, bookings BookingReader, hold HoldPolicy, logger logrus.FieldLogger) *Processor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{
		Commissions: commissions,
		Bookings:    bookings,
		Hold:        hold,
		Logger:      logger.WithField("component", "lifecycle"),
	}
}

// Result is the outcome of one Process call.
type Result struct {
	Checked   int
	Started   int // pending -> trip_in_progress
	Completed int // trip_in_progress -> in_hold_period
	Released  int // in_hold_period -> available
	Frozen    int // skipped because the booking is not confirmed
	Errors    []*ItemError

	// Truncated is set when the context ended before every candidate was
	// examined. Deferred is how many were left for the next run.
	Truncated bool
	Deferred  int
}

// Transitioned is the number of commissions that changed state.
func (r Result) Transitioned() int { return r.Started + r.Completed + r.Released }

type outcome int

const (
	outcomeNone outcome = iota
	outcomeStarted
	outcomeCompleted
	outcomeResumed
	outcomeReleased
	outcomeFrozen
)

// Process examines every active commission once against now.
func (p *Processor) Process(ctx context.Context, now time.Time) (Result, error) {
	candidates, err := p.Commissions.ListActiveCommissions(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list active commissions: %w", err)
	}

	var res Result
	for i, c := range candidates {
		if ctx.Err() != nil {
			res.Truncated = true
			res.Deferred = len(candidates) - i
			p.Logger.WithFields(logrus.Fields{
				"deferred": res.Deferred,
				"reason":   ctx.Err().Error(),
			}).Warn("run budget exhausted, deferring remaining commissions")
			break
		}

		res.Checked++
		out, err := p.advance(ctx, c, now)
		switch out {
		case outcomeStarted:
			res.Started++
		case outcomeCompleted:
			res.Completed++
		case outcomeReleased:
			res.Released++
		case outcomeFrozen:
			res.Frozen++
		}
		if err != nil {
			res.Errors = append(res.Errors, &ItemError{CommissionID: c.ID, Err: err})
		}
	}

	return res, nil
}

// advance applies at most one rule to c. The returned outcome is valid even
// when err is non-nil (a completed trip whose hold write failed still counts).
func (p *Processor) advance(ctx context.Context, c Commission, now time.Time) (outcome, error) {
	log := p.Logger.WithFields(logrus.Fields{
		"commission_id": c.ID,
		"booking_id":    c.BookingID,
		"agent_id":      c.AgentID,
		"status":        c.Status,
	})

	if violation := checkInvariants(c); violation != nil {
		log.WithField("reason", violation.Reason).Error("skipping commission with inconsistent data")
		return outcomeNone, violation
	}
	if !due(c, now) {
		return outcomeNone, nil
	}

	booking, err := p.Bookings.GetBooking(ctx, c.BookingID)
	if err != nil {
		log.WithError(err).Warn("booking lookup failed")
		return outcomeNone, fmt.Errorf("lookup booking %s: %w", c.BookingID, err)
	}
	if !booking.Confirmed() {
		log.WithField("booking_status", booking.Status).Info("booking not confirmed, commission frozen")
		return outcomeFrozen, nil
	}

	switch c.Status {
	case StatusPending:
		ok, err := p.transition(ctx, Transition{ID: c.ID, From: StatusPending, To: StatusTripInProgress, At: now})
		if err != nil || !ok {
			return outcomeNone, err
		}
		log.Debug("trip started")
		return outcomeStarted, nil

	case StatusTripInProgress:
		hold := p.Hold.ReleaseDate(c.TripEndDate)
		ok, err := p.transition(ctx, Transition{
			ID: c.ID, From: StatusTripInProgress, To: StatusTripCompleted, At: now,
			HoldUntilDate: &hold,
		})
		if err != nil || !ok {
			return outcomeNone, err
		}
		if _, err := p.transition(ctx, Transition{ID: c.ID, From: StatusTripCompleted, To: StatusInHoldPeriod, At: now}); err != nil {
			return outcomeCompleted, err
		}
		log.WithField("hold_until", hold).Debug("trip completed, hold period started")
		return outcomeCompleted, nil

	case StatusTripCompleted:
		ok, err := p.transition(ctx, Transition{ID: c.ID, From: StatusTripCompleted, To: StatusInHoldPeriod, At: now})
		if err != nil || !ok {
			return outcomeNone, err
		}
		log.Info("resumed interrupted hold period entry")
		return outcomeResumed, nil

	case StatusInHoldPeriod:
		releasedAt := now
		ok, err := p.transition(ctx, Transition{
			ID: c.ID, From: StatusInHoldPeriod, To: StatusAvailable, At: now,
			ReleasedAt: &releasedAt,
		})
		if err != nil || !ok {
			return outcomeNone, err
		}
		log.Info("commission released")
		return outcomeReleased, nil
	}

	return outcomeNone, nil
}

func (p *Processor) transition(ctx context.Context, t Transition) (bool, error) {
	ok, err := p.Commissions.TransitionCommission(ctx, t)
	if err != nil {
		return false, fmt.Errorf("transition %s -> %s: %w", t.From, t.To, err)
	}
	if !ok {
		p.Logger.WithFields(logrus.Fields{
			"commission_id": t.ID,
			"from":          t.From,
			"to":            t.To,
		}).Debug("status changed underneath, transition skipped")
	}
	return ok, nil
}

// due reports whether a rule fires for c at now.
func due(c Commission, now time.Time) bool {
	switch c.Status {
	case StatusPending:
		return !now.Before(c.TripStartDate)
	case StatusTripInProgress:
		return !now.Before(c.TripEndDate)
	case StatusTripCompleted:
		return true
	case StatusInHoldPeriod:
		return c.HoldUntilDate != nil && !now.Before(*c.HoldUntilDate)
	}
	return false
}

// checkInvariants catches stored data the state machine must not act on.
func checkInvariants(c Commission) *InvariantViolationError {
	violation := func(reason string) *InvariantViolationError {
		return &InvariantViolationError{CommissionID: c.ID, Status: c.Status, Reason: reason}
	}
	switch c.Status {
	case StatusTripCompleted, StatusInHoldPeriod:
		if c.HoldUntilDate == nil {
			return violation("holdUntilDate is unset")
		}
	}
	if !c.Status.Released() && c.ReleasedAt != nil {
		return violation("releasedAt set before release")
	}
	if !c.Status.Valid() {
		return violation("unknown status")
	}
	return nil
}
