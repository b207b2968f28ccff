package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// UpcomingReleaseWindow is how far ahead Summarize looks for hold periods
// about to end.
const UpcomingReleaseWindow = 7 * 24 * time.Hour

// Stats is the agent dashboard summary of a set of commissions.
type Stats struct {
	Count map[Status]int

	TotalEarnings   decimal.Decimal
	PendingAmount   decimal.Decimal // pending through in_hold_period
	AvailableAmount decimal.Decimal
	PaidAmount      decimal.Decimal

	Categories        Components
	AverageCommission decimal.Decimal

	UpcomingReleases      int
	UpcomingReleaseAmount decimal.Decimal
}

// Summarize computes Stats as of now.
func Summarize(commissions []Commission, now time.Time) Stats {
	s := Stats{
		Count:                 make(map[Status]int, len(AllStatuses)),
		Categories:            zeroComponents(),
		TotalEarnings:         decimal.Zero,
		PendingAmount:         decimal.Zero,
		AvailableAmount:       decimal.Zero,
		PaidAmount:            decimal.Zero,
		AverageCommission:     decimal.Zero,
		UpcomingReleaseAmount: decimal.Zero,
	}
	for _, st := range AllStatuses {
		s.Count[st] = 0
	}

	horizon := now.Add(UpcomingReleaseWindow)
	for _, c := range commissions {
		total := c.Total()
		s.Count[c.Status]++
		s.TotalEarnings = s.TotalEarnings.Add(total)
		s.Categories = s.Categories.Add(c.Components)

		switch c.Status {
		case StatusAvailable:
			s.AvailableAmount = s.AvailableAmount.Add(total)
		case StatusPaidOut:
			s.PaidAmount = s.PaidAmount.Add(total)
		default:
			s.PendingAmount = s.PendingAmount.Add(total)
		}

		if c.Status == StatusInHoldPeriod && c.HoldUntilDate != nil && !c.HoldUntilDate.After(horizon) {
			s.UpcomingReleases++
			s.UpcomingReleaseAmount = s.UpcomingReleaseAmount.Add(total)
		}
	}

	if len(commissions) > 0 {
		s.AverageCommission = s.TotalEarnings.Div(decimal.NewFromInt(int64(len(commissions)))).Round(2)
	}
	return s
}
