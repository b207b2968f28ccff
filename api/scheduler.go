/*
scheduler.go - Automated lifecycle scheduler

PURPOSE:
  Periodically runs the commission lifecycle so trips start, complete and
  release without an operator pressing the button.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Goes through the same Reporter.Run as the manual endpoint, so every
    tick leaves an execution log
  - Stop cancels an in-flight run; the run records itself as truncated

CONFIGURATION:
  - Interval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewLifecycleScheduler(reporter, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunLifecycle endpoint (manual trigger)
  - commission/reporter.go: Reporter.Run
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/commission-engine/commission"
)

type lifecycleRunner interface {
	Run(ctx context.Context, now time.Time, triggeredBy commission.TriggeredBy) (commission.Summary, error)
}

// LifecycleScheduler drives periodic lifecycle runs.
type LifecycleScheduler struct {
	Runner   lifecycleRunner
	Interval time.Duration
	Enabled  bool
	Logger   logrus.FieldLogger
	Clock    func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex // guards Start/Stop

	lastMu  sync.Mutex
	lastRun time.Time
}

// NewLifecycleScheduler creates a new scheduler.
func NewLifecycleScheduler(runner lifecycleRunner, logger logrus.FieldLogger) *LifecycleScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LifecycleScheduler{
		Runner:   runner,
		Interval: time.Hour,
		Enabled:  true,
		Logger:   logger.WithField("component", "scheduler"),
		Clock:    time.Now,
	}
}

// Start begins the scheduler.
func (ls *LifecycleScheduler) Start() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if !ls.Enabled {
		ls.Logger.Info("scheduler disabled, not starting")
		return
	}
	if ls.ticker != nil {
		return
	}

	ls.ticker = time.NewTicker(ls.Interval)
	ls.stop = make(chan struct{})
	ls.ctx, ls.cancel = context.WithCancel(context.Background())
	ls.wg.Add(1)

	go ls.run(ls.ctx, ls.ticker, ls.stop)

	ls.Logger.WithField("interval", ls.Interval.String()).Info("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to return.
func (ls *LifecycleScheduler) Stop() {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.ticker == nil {
		return
	}
	ls.ticker.Stop()
	ls.cancel()
	close(ls.stop)
	ls.wg.Wait()
	ls.ticker = nil
	ls.Logger.Info("scheduler stopped")
}

func (ls *LifecycleScheduler) run(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	defer ls.wg.Done()

	// Run immediately on start
	ls.tick(ctx)

	for {
		select {
		case <-ticker.C:
			ls.tick(ctx)
		case <-stop:
			return
		}
	}
}

func (ls *LifecycleScheduler) tick(ctx context.Context) {
	if _, err := ls.RunNow(ctx); err != nil {
		ls.Logger.WithError(err).Error("scheduled lifecycle run failed")
	}
}

// RunNow triggers an immediate cron-attributed run.
func (ls *LifecycleScheduler) RunNow(ctx context.Context) (commission.Summary, error) {
	now := ls.Clock().UTC()
	summary, err := ls.Runner.Run(ctx, now, commission.TriggeredByCron)

	ls.lastMu.Lock()
	ls.lastRun = now
	ls.lastMu.Unlock()
	return summary, err
}

// NextRunTime returns when the next scheduled run will occur.
func (ls *LifecycleScheduler) NextRunTime() time.Time {
	ls.lastMu.Lock()
	defer ls.lastMu.Unlock()
	if ls.lastRun.IsZero() {
		return ls.Clock().Add(ls.Interval)
	}
	return ls.lastRun.Add(ls.Interval)
}
