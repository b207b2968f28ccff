package commission_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/commission/store"
)

// tripStart is T in the lifecycle examples.
var tripStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time { return tripStart.AddDate(0, 0, n) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quietLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

type fixture struct {
	mem       *store.Memory
	processor *commission.Processor
	hook      *test.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	logger, hook := quietLogger()
	return &fixture{
		mem:       mem,
		processor: commission.NewProcessor(mem, mem, commission.DefaultHoldPolicy(), logger),
		hook:      hook,
	}
}

// seed stores a confirmed booking spanning T..T+5d and a pending commission
// for it.
func (f *fixture) seed(t *testing.T, id string, agent string, flight string) commission.Commission {
	t.Helper()
	ctx := context.Background()
	b := commission.Booking{
		ID:        commission.BookingID("bk-" + id),
		Status:    commission.BookingConfirmed,
		StartDate: tripStart,
		EndDate:   day(5),
		Total:     dec(flight).Mul(decimal.NewFromInt(10)),
	}
	require.NoError(t, f.mem.SaveBooking(ctx, b))

	c, err := commission.NewFromBooking(
		commission.CommissionID(id),
		commission.AgentID(agent),
		b,
		commission.Components{Flight: dec(flight)},
		day(-10),
	)
	require.NoError(t, err)
	require.NoError(t, f.mem.CreateCommission(ctx, c))
	return c
}

func (f *fixture) setBookingStatus(t *testing.T, c commission.Commission, st commission.BookingStatus) {
	t.Helper()
	ctx := context.Background()
	b, err := f.mem.GetBooking(ctx, c.BookingID)
	require.NoError(t, err)
	b.Status = st
	require.NoError(t, f.mem.SaveBooking(ctx, b))
}

func (f *fixture) run(t *testing.T, now time.Time) commission.Result {
	t.Helper()
	res, err := f.processor.Process(context.Background(), now)
	require.NoError(t, err)
	return res
}

func (f *fixture) get(t *testing.T, id commission.CommissionID) commission.Commission {
	t.Helper()
	c, err := f.mem.GetCommission(context.Background(), id)
	require.NoError(t, err)
	return c
}

// release drives c all the way to available.
func (f *fixture) release(t *testing.T, c commission.Commission) {
	t.Helper()
	f.run(t, day(1))
	f.run(t, day(6))
	f.run(t, day(20))
	require.Equal(t, commission.StatusAvailable, f.get(t, c.ID).Status)
}
