package commission_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type recordingNotifier struct {
	mu      sync.Mutex
	payouts []commission.Payout
	err     error
}

func (n *recordingNotifier) PayoutCreated(_ context.Context, p commission.Payout) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payouts = append(n.payouts, p)
	return n.err
}

// sabotagedPayouts fails MarkPaidOut on the nth call inside the transaction.
type sabotagedPayouts struct {
	commission.PayoutStore
	failAt int
}

func (s sabotagedPayouts) WithPayoutTx(ctx context.Context, fn func(commission.PayoutTx) error) error {
	return s.PayoutStore.WithPayoutTx(ctx, func(tx commission.PayoutTx) error {
		return fn(&sabotagedTx{PayoutTx: tx, failAt: s.failAt})
	})
}

type sabotagedTx struct {
	commission.PayoutTx
	failAt int
	calls  int
}

func (tx *sabotagedTx) MarkPaidOut(ctx context.Context, id commission.CommissionID, payoutID commission.PayoutID, at time.Time) (bool, error) {
	tx.calls++
	if tx.calls == tx.failAt {
		return false, errors.New("write failed")
	}
	return tx.PayoutTx.MarkPaidOut(ctx, id, payoutID, at)
}

func newAggregator(f *fixture, notifier commission.Notifier) *commission.Aggregator {
	logger, _ := quietLogger()
	a := commission.NewAggregator(f.mem, notifier, logger)
	a.Clock = func() time.Time { return day(25) }
	n := 0
	var mu sync.Mutex
	a.NewID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("po-%d", n)
	}
	return a
}

// seedAvailable creates a released commission with the given values.
func (f *fixture) seedAvailable(t *testing.T, id, agent string, flight, hotel, bookingTotal string) commission.Commission {
	t.Helper()
	ctx := context.Background()
	b := commission.Booking{
		ID: commission.BookingID("bk-" + id), Status: commission.BookingConfirmed,
		StartDate: tripStart, EndDate: day(5), Total: dec(bookingTotal),
	}
	require.NoError(t, f.mem.SaveBooking(ctx, b))
	c, err := commission.NewFromBooking(commission.CommissionID(id), commission.AgentID(agent), b,
		commission.Components{Flight: dec(flight), Hotel: dec(hotel)}, day(-10))
	require.NoError(t, err)
	require.NoError(t, f.mem.CreateCommission(ctx, c))

	hold := day(19)
	released := day(20)
	ok, err := f.mem.TransitionCommission(ctx, commission.Transition{
		ID: c.ID, From: commission.StatusPending, To: commission.StatusAvailable, At: released,
		HoldUntilDate: &hold, ReleasedAt: &released,
	})
	require.NoError(t, err)
	require.True(t, ok)
	return f.get(t, c.ID)
}

// =============================================================================
// TESTS
// =============================================================================

func TestCreatePayout_AggregatesAvailableCommissions(t *testing.T) {
	// GIVEN: Three available commissions of 50, 30, 20 on bookings of 500, 300, 200
	f := newFixture(t)
	f.seedAvailable(t, "c50", "agent-1", "40", "10", "500")
	f.seedAvailable(t, "c30", "agent-1", "30", "0", "300")
	f.seedAvailable(t, "c20", "agent-1", "5", "15", "200")
	notifier := &recordingNotifier{}
	a := newAggregator(f, notifier)

	// WHEN
	res, err := a.CreatePayout(context.Background(), "agent-1")

	// THEN: One payout with the summed breakdown
	require.NoError(t, err)
	assert.Equal(t, commission.PayoutCreated, res.Outcome)
	require.NotNil(t, res.Payout)
	p := res.Payout
	assert.True(t, p.TotalAmount.Equal(dec("100")), "total %s", p.TotalAmount)
	assert.True(t, p.Breakdown.TotalBookingValue.Equal(dec("1000")))
	assert.Equal(t, 3, p.Breakdown.TotalCommissions)
	assert.True(t, p.Breakdown.Flight.Equal(dec("75")))
	assert.True(t, p.Breakdown.Hotel.Equal(dec("25")))
	assert.True(t, p.Breakdown.Activity.IsZero())
	assert.ElementsMatch(t, []commission.CommissionID{"c50", "c30", "c20"}, p.CommissionIDs)

	// AND: Every included commission is paid out and points at the payout
	sum := dec("0")
	for _, id := range p.CommissionIDs {
		c := f.get(t, id)
		assert.Equal(t, commission.StatusPaidOut, c.Status)
		require.NotNil(t, c.PayoutID)
		assert.Equal(t, p.ID, *c.PayoutID)
		sum = sum.Add(c.Total())
	}
	assert.True(t, sum.Equal(p.TotalAmount))

	// AND: The payout is stored and announced
	stored, err := f.mem.GetPayout(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.CommissionIDs, stored.CommissionIDs)
	require.Len(t, notifier.payouts, 1)
	assert.Equal(t, p.ID, notifier.payouts[0].ID)
}

func TestCreatePayout_NothingAvailable(t *testing.T) {
	// GIVEN: An agent with only a commission still on hold
	f := newFixture(t)
	f.seed(t, "c1", "agent-1", "10")
	notifier := &recordingNotifier{}
	a := newAggregator(f, notifier)

	// WHEN
	res, err := a.CreatePayout(context.Background(), "agent-1")

	// THEN: Explicit empty result, no error, no payout
	require.NoError(t, err)
	assert.Equal(t, commission.PayoutNothingAvailable, res.Outcome)
	assert.Nil(t, res.Payout)
	payouts, err := f.mem.ListPayouts(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Empty(t, payouts)
	assert.Empty(t, notifier.payouts)
}

func TestCreatePayout_OnlyClaimsOwnAvailable(t *testing.T) {
	// GIVEN: Two agents and a pending commission for agent-1
	f := newFixture(t)
	f.seedAvailable(t, "mine", "agent-1", "10", "0", "100")
	f.seedAvailable(t, "theirs", "agent-2", "10", "0", "100")
	f.seed(t, "later", "agent-1", "10")
	a := newAggregator(f, nil)

	// WHEN
	res, err := a.CreatePayout(context.Background(), "agent-1")

	// THEN
	require.NoError(t, err)
	assert.Equal(t, []commission.CommissionID{"mine"}, res.Payout.CommissionIDs)
	assert.Equal(t, commission.StatusAvailable, f.get(t, "theirs").Status)
	assert.Nil(t, f.get(t, "theirs").PayoutID)
	assert.Equal(t, commission.StatusPending, f.get(t, "later").Status)
}

func TestCreatePayout_RollsBackOnFailure(t *testing.T) {
	// GIVEN: The second paid-out write fails
	f := newFixture(t)
	f.seedAvailable(t, "a", "agent-1", "10", "0", "100")
	f.seedAvailable(t, "b", "agent-1", "20", "0", "200")
	f.seedAvailable(t, "c", "agent-1", "30", "0", "300")
	notifier := &recordingNotifier{}
	a := newAggregator(f, notifier)
	a.Payouts = sabotagedPayouts{PayoutStore: f.mem, failAt: 2}

	// WHEN
	_, err := a.CreatePayout(context.Background(), "agent-1")

	// THEN: Nothing is paid and no payout exists
	require.Error(t, err)
	for _, id := range []commission.CommissionID{"a", "b", "c"} {
		c := f.get(t, id)
		assert.Equal(t, commission.StatusAvailable, c.Status, id)
		assert.Nil(t, c.PayoutID, id)
	}
	payouts, err := f.mem.ListPayouts(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Empty(t, payouts)
	assert.Empty(t, notifier.payouts)

	// AND: A retry with a healthy store succeeds
	a.Payouts = f.mem
	res, err := a.CreatePayout(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Len(t, res.Payout.CommissionIDs, 3)
}

func TestCreatePayout_ConcurrentRequestsClaimOnce(t *testing.T) {
	// GIVEN: Ten available commissions
	f := newFixture(t)
	for i := range 10 {
		f.seedAvailable(t, fmt.Sprintf("c%d", i), "agent-1", "10", "0", "100")
	}
	a := newAggregator(f, nil)

	// WHEN: Five payout requests race
	var wg sync.WaitGroup
	results := make([]commission.PayoutResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := a.CreatePayout(context.Background(), "agent-1")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	// THEN: Exactly one payout took all ten, the rest found nothing
	created := 0
	for _, r := range results {
		if r.Outcome == commission.PayoutCreated {
			created++
			assert.Len(t, r.Payout.CommissionIDs, 10)
		}
	}
	assert.Equal(t, 1, created)
}

func TestCreatePayout_NotifierFailureKeepsPayout(t *testing.T) {
	f := newFixture(t)
	f.seedAvailable(t, "a", "agent-1", "10", "0", "100")
	a := newAggregator(f, &recordingNotifier{err: errors.New("smtp down")})

	res, err := a.CreatePayout(context.Background(), "agent-1")

	require.NoError(t, err)
	assert.Equal(t, commission.PayoutCreated, res.Outcome)
	assert.Equal(t, commission.StatusPaidOut, f.get(t, "a").Status)
}

func TestCreatePayout_RequiresAgent(t *testing.T) {
	f := newFixture(t)
	a := newAggregator(f, nil)

	_, err := a.CreatePayout(context.Background(), "")

	assert.ErrorIs(t, err, commission.ErrAgentRequired)
}

func TestAggregate_Empty(t *testing.T) {
	b := commission.Aggregate(nil)
	assert.Zero(t, b.TotalCommissions)
	assert.True(t, b.Total().IsZero())
	assert.True(t, b.TotalBookingValue.IsZero())
}
