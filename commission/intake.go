package commission

import (
	"fmt"
	"time"
)

// NewFromBooking builds a pending commission for a confirmed booking. Trip
// dates and the booking total are copied so later edits to the booking do
// not move the commission's lifecycle.
func NewFromBooking(id CommissionID, agentID AgentID, b Booking, components Components, createdAt time.Time) (Commission, error) {
	switch {
	case id == "":
		return Commission{}, fmt.Errorf("%w: id is required", ErrInvalidCommission)
	case agentID == "":
		return Commission{}, fmt.Errorf("%w: %v", ErrInvalidCommission, ErrAgentRequired)
	case !b.Confirmed():
		return Commission{}, fmt.Errorf("%w: booking %s is %s", ErrInvalidCommission, b.ID, b.Status)
	case b.EndDate.Before(b.StartDate):
		return Commission{}, fmt.Errorf("%w: trip ends before it starts", ErrInvalidCommission)
	case components.anyNegative():
		return Commission{}, fmt.Errorf("%w: negative commission component", ErrInvalidCommission)
	case b.Total.IsNegative():
		return Commission{}, fmt.Errorf("%w: negative booking total", ErrInvalidCommission)
	}

	return Commission{
		ID:            id,
		BookingID:     b.ID,
		AgentID:       agentID,
		Status:        StatusPending,
		BookingTotal:  b.Total,
		Components:    components,
		TripStartDate: b.StartDate,
		TripEndDate:   b.EndDate,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}, nil
}
