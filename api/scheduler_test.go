package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
)

type fakeRunner struct {
	mu       sync.Mutex
	triggers []commission.TriggeredBy
	ran      chan struct{}
	block    bool
}

func (f *fakeRunner) Run(ctx context.Context, _ time.Time, by commission.TriggeredBy) (commission.Summary, error) {
	f.mu.Lock()
	f.triggers = append(f.triggers, by)
	f.mu.Unlock()
	if f.ran != nil {
		f.ran <- struct{}{}
	}
	if f.block {
		<-ctx.Done()
		return commission.Summary{Truncated: true}, nil
	}
	return commission.Summary{TriggeredBy: by}, nil
}

func TestLifecycleScheduler_RunsOnStartAsCron(t *testing.T) {
	// GIVEN: A scheduler with a long interval
	runner := &fakeRunner{ran: make(chan struct{}, 1)}
	logger, _ := test.NewNullLogger()
	s := NewLifecycleScheduler(runner, logger)
	s.Interval = time.Hour

	// WHEN
	s.Start()
	defer s.Stop()

	// THEN: It runs immediately, attributed to cron
	select {
	case <-runner.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not run on start")
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []commission.TriggeredBy{commission.TriggeredByCron}, runner.triggers)
}

func TestLifecycleScheduler_StopCancelsInFlightRun(t *testing.T) {
	// GIVEN: A run that only returns when cancelled
	runner := &fakeRunner{ran: make(chan struct{}, 1), block: true}
	logger, _ := test.NewNullLogger()
	s := NewLifecycleScheduler(runner, logger)
	s.Start()
	<-runner.ran

	// WHEN
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	// THEN: Stop returns promptly
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the in-flight run")
	}

	// AND: A second Stop is a no-op
	s.Stop()
}

func TestLifecycleScheduler_Disabled(t *testing.T) {
	runner := &fakeRunner{}
	logger, _ := test.NewNullLogger()
	s := NewLifecycleScheduler(runner, logger)
	s.Enabled = false

	s.Start()
	s.Stop()

	assert.Empty(t, runner.triggers)
}

func TestLifecycleScheduler_RunNowAndNextRunTime(t *testing.T) {
	runner := &fakeRunner{}
	logger, _ := test.NewNullLogger()
	s := NewLifecycleScheduler(runner, logger)
	fixed := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	s.Clock = func() time.Time { return fixed }
	s.Interval = 30 * time.Minute

	summary, err := s.RunNow(context.Background())

	require.NoError(t, err)
	assert.Equal(t, commission.TriggeredByCron, summary.TriggeredBy)
	assert.Equal(t, fixed.Add(30*time.Minute), s.NextRunTime())
}
