package commission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/commission-engine/commission"
)

func TestSummarize(t *testing.T) {
	// GIVEN: One commission in each interesting state
	holdSoon := day(22)
	holdLater := day(40)
	cs := []commission.Commission{
		{ID: "p", Status: commission.StatusPending, Components: commission.Components{Flight: dec("10")}},
		{ID: "h1", Status: commission.StatusInHoldPeriod, HoldUntilDate: &holdSoon, Components: commission.Components{Hotel: dec("20")}},
		{ID: "h2", Status: commission.StatusInHoldPeriod, HoldUntilDate: &holdLater, Components: commission.Components{Hotel: dec("5")}},
		{ID: "a", Status: commission.StatusAvailable, Components: commission.Components{Activity: dec("30")}},
		{ID: "x", Status: commission.StatusPaidOut, Components: commission.Components{Transfer: dec("35")}},
	}

	// WHEN: Viewed at T+20d
	s := commission.Summarize(cs, day(20))

	// THEN
	assert.Equal(t, 1, s.Count[commission.StatusPending])
	assert.Equal(t, 2, s.Count[commission.StatusInHoldPeriod])
	assert.Equal(t, 0, s.Count[commission.StatusTripInProgress])
	assert.Len(t, s.Count, len(commission.AllStatuses))
	assert.True(t, s.TotalEarnings.Equal(dec("100")))
	assert.True(t, s.PendingAmount.Equal(dec("35")))
	assert.True(t, s.AvailableAmount.Equal(dec("30")))
	assert.True(t, s.PaidAmount.Equal(dec("35")))
	assert.True(t, s.Categories.Hotel.Equal(dec("25")))
	assert.True(t, s.AverageCommission.Equal(dec("20")))
	assert.Equal(t, 1, s.UpcomingReleases)
	assert.True(t, s.UpcomingReleaseAmount.Equal(dec("20")))
}

func TestSummarize_Empty(t *testing.T) {
	s := commission.Summarize(nil, day(0))

	assert.True(t, s.TotalEarnings.IsZero())
	assert.True(t, s.AverageCommission.IsZero())
	assert.Zero(t, s.UpcomingReleases)
}
