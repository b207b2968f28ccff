package commission

import "time"

// DefaultHoldDays is the waiting period after trip completion before a
// commission may be paid.
const DefaultHoldDays = 14

// HoldPolicy computes when a completed trip's commission may be released.
type HoldPolicy struct {
	Days int
}

// DefaultHoldPolicy returns the policy with DefaultHoldDays.
func DefaultHoldPolicy() HoldPolicy { return HoldPolicy{Days: DefaultHoldDays} }

// ReleaseDate returns the hold-release eligibility date for a trip ending at
// tripEnd. Calendar days, in tripEnd's location.
func (p HoldPolicy) ReleaseDate(tripEnd time.Time) time.Time {
	return tripEnd.AddDate(0, 0, p.Days)
}

// HoldReleaseDate applies the default policy.
func HoldReleaseDate(tripEnd time.Time) time.Time {
	return DefaultHoldPolicy().ReleaseDate(tripEnd)
}
