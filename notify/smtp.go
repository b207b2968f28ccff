package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/commission-engine/commission"
	"gopkg.in/gomail.v2"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPNotifier emails a plain-text payout summary.
type SMTPNotifier struct {
	dialer mailDialer
	from   string
	to     string
}

func NewSMTPNotifier(host string, port int, user, password, from, to string) *SMTPNotifier {
	return &SMTPNotifier{
		dialer: gomail.NewDialer(host, port, user, password),
		from:   from,
		to:     to,
	}
}

func (n *SMTPNotifier) PayoutCreated(ctx context.Context, p commission.Payout) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to)
	m.SetHeader("Subject", fmt.Sprintf("Payout %s created for agent %s", p.ID, p.AgentID))
	m.SetBody("text/plain", payoutBody(NewPayoutCreatedEvent(p)))

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send payout email: %w", err)
	}
	return nil
}

func payoutBody(e PayoutCreatedEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Payout: %s\n", e.PayoutID)
	fmt.Fprintf(&sb, "Agent: %s\n", e.AgentID)
	fmt.Fprintf(&sb, "Created: %s\n\n", e.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "Total: %s\n", e.TotalAmount)
	fmt.Fprintf(&sb, "Commissions: %d\n", e.CommissionCount)
	fmt.Fprintf(&sb, "Booking value: %s\n\n", e.BookingValue)
	fmt.Fprintf(&sb, "  Flight:   %s\n", e.Flight)
	fmt.Fprintf(&sb, "  Hotel:    %s\n", e.Hotel)
	fmt.Fprintf(&sb, "  Activity: %s\n", e.Activity)
	fmt.Fprintf(&sb, "  Transfer: %s\n", e.Transfer)
	fmt.Fprintf(&sb, "  Other:    %s\n", e.Other)
	return sb.String()
}
