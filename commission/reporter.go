/*
reporter.go - Lifecycle run wrapper and audit trail

PURPOSE:
  Reporter.Run is the single entry point for a lifecycle run, used by both
  the scheduler and the manual operator trigger. It bounds the run by
  MaxDuration, measures wall-clock duration, and persists exactly one
  ExecutionLog for every run that produced a summary.

RUN-LEVEL FAILURE:
  If the Processor cannot list candidates, Run returns the error and writes
  no log. A log row with zero counts would read as "nothing to do".

HISTORY:
  History pages through stored logs, newest first. limit is 1..100 and
  offset >= 0; anything else is ErrInvalidPagination.
*/
package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxRunDuration bounds a single lifecycle run.
const DefaultMaxRunDuration = 5 * time.Minute

// Reporter wraps Processor runs with timing and audit logging.
type Reporter struct {
	Processor   *Processor
	Logs        ExecutionLogStore
	MaxDuration time.Duration
	Logger      logrus.FieldLogger

	// Clock measures duration only; lifecycle decisions use the now passed to Run.
	Clock func() time.Time
	NewID func() string
}

// NewReporter creates a reporter with default budget, clock and id source.
func NewReporter(processor *Processor, logs ExecutionLogStore, logger logrus.FieldLogger) *Reporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reporter{
		Processor:   processor,
		Logs:        logs,
		MaxDuration: DefaultMaxRunDuration,
		Logger:      logger.WithField("component", "reporter"),
		Clock:       time.Now,
		NewID:       uuid.NewString,
	}
}

// Summary is what a run reports back to its trigger.
type Summary struct {
	ExecutionID         string
	TriggeredBy         TriggeredBy
	TripsStarted        int
	TripsCompleted      int
	CommissionsReleased int
	ItemsChecked        int
	ItemsFailed         int
	Errors              []string
	Truncated           bool
	Duration            time.Duration
}

// Run executes one lifecycle pass against now and records it.
func (r *Reporter) Run(ctx context.Context, now time.Time, triggeredBy TriggeredBy) (Summary, error) {
	if !triggeredBy.Valid() {
		return Summary{}, fmt.Errorf("%w: %q", ErrInvalidTrigger, triggeredBy)
	}

	runCtx := ctx
	if r.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.MaxDuration)
		defer cancel()
	}

	started := r.Clock()
	res, err := r.Processor.Process(runCtx, now)
	if err != nil {
		r.Logger.WithError(err).WithField("triggered_by", triggeredBy).Error("lifecycle run failed")
		return Summary{}, err
	}
	duration := r.Clock().Sub(started)

	var errs []string
	for _, itemErr := range res.Errors {
		errs = append(errs, itemErr.Error())
	}

	entry := ExecutionLog{
		ID:                  r.NewID(),
		ExecutionTime:       now,
		ItemsChecked:        res.Checked,
		ItemsTransitioned:   res.Transitioned(),
		ItemsFailed:         len(res.Errors),
		TripsStarted:        res.Started,
		TripsCompleted:      res.Completed,
		CommissionsReleased: res.Released,
		Duration:            duration,
		TriggeredBy:         triggeredBy,
		Errors:              errs,
		Truncated:           res.Truncated,
	}

	// Transitions are already committed; record the run even if the caller cancelled.
	if err := r.Logs.SaveExecutionLog(context.WithoutCancel(ctx), entry); err != nil {
		return Summary{}, fmt.Errorf("save execution log: %w", err)
	}

	r.Logger.WithFields(logrus.Fields{
		"run_id":       entry.ID,
		"triggered_by": triggeredBy,
		"checked":      res.Checked,
		"started":      res.Started,
		"completed":    res.Completed,
		"released":     res.Released,
		"frozen":       res.Frozen,
		"failed":       len(res.Errors),
		"truncated":    res.Truncated,
		"duration_ms":  duration.Milliseconds(),
	}).Info("lifecycle run completed")

	return Summary{
		ExecutionID:         entry.ID,
		TriggeredBy:         triggeredBy,
		TripsStarted:        res.Started,
		TripsCompleted:      res.Completed,
		CommissionsReleased: res.Released,
		ItemsChecked:        res.Checked,
		ItemsFailed:         len(res.Errors),
		Errors:              errs,
		Truncated:           res.Truncated,
		Duration:            duration,
	}, nil
}

// HistoryPage is one page of execution logs.
type HistoryPage struct {
	Logs       []ExecutionLog
	Pagination Pagination
}

// History returns stored execution logs, newest first.
func (r *Reporter) History(ctx context.Context, req PageRequest) (HistoryPage, error) {
	if err := req.Validate(); err != nil {
		return HistoryPage{}, err
	}
	logs, total, err := r.Logs.ListExecutionLogs(ctx, req.Limit, req.Offset)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("list execution logs: %w", err)
	}
	if logs == nil {
		logs = []ExecutionLog{}
	}
	return HistoryPage{Logs: logs, Pagination: NewPagination(total, req)}, nil
}
