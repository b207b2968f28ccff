// Package store provides in-memory implementations of the commission ports.
package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements commission.Store, BookingReader, PayoutStore and
// ExecutionLogStore.
type Memory struct {
	mu          sync.RWMutex
	commissions map[commission.CommissionID]commission.Commission
	order       []commission.CommissionID
	byBooking   map[commission.BookingID]commission.CommissionID
	bookings    map[commission.BookingID]commission.Booking
	payouts     map[commission.PayoutID]commission.Payout
	payoutOrder []commission.PayoutID
	logs        []commission.ExecutionLog
}

func NewMemory() *Memory {
	return &Memory{
		commissions: make(map[commission.CommissionID]commission.Commission),
		byBooking:   make(map[commission.BookingID]commission.CommissionID),
		bookings:    make(map[commission.BookingID]commission.Booking),
		payouts:     make(map[commission.PayoutID]commission.Payout),
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

// SaveBooking inserts or replaces a booking record.
func (m *Memory) SaveBooking(_ context.Context, b commission.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
	return nil
}

func (m *Memory) GetBooking(_ context.Context, id commission.BookingID) (commission.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return commission.Booking{}, commission.ErrBookingNotFound
	}
	return b, nil
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func (m *Memory) GetCommission(_ context.Context, id commission.CommissionID) (commission.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commissions[id]
	if !ok {
		return commission.Commission{}, commission.ErrCommissionNotFound
	}
	return c, nil
}

func (m *Memory) ListActiveCommissions(_ context.Context) ([]commission.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []commission.Commission
	for _, id := range m.order {
		if c := m.commissions[id]; !c.Status.Terminal() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) ListAgentCommissions(_ context.Context, agentID commission.AgentID, status *commission.Status) ([]commission.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agentCommissionsLocked(agentID, status), nil
}

func (m *Memory) agentCommissionsLocked(agentID commission.AgentID, status *commission.Status) []commission.Commission {
	var out []commission.Commission
	for _, id := range m.order {
		c := m.commissions[id]
		if c.AgentID != agentID {
			continue
		}
		if status != nil && c.Status != *status {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (m *Memory) CreateCommission(_ context.Context, c commission.Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byBooking[c.BookingID]; ok {
		return commission.ErrDuplicateBooking
	}
	if _, ok := m.commissions[c.ID]; ok {
		return commission.ErrDuplicateBooking
	}
	m.commissions[c.ID] = c
	m.byBooking[c.BookingID] = c.ID
	m.order = append(m.order, c.ID)
	return nil
}

// TransitionCommission applies t only if the stored status equals t.From.
func (m *Memory) TransitionCommission(_ context.Context, t commission.Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(t)
}

func (m *Memory) transitionLocked(t commission.Transition) (bool, error) {
	c, ok := m.commissions[t.ID]
	if !ok {
		return false, commission.ErrCommissionNotFound
	}
	if c.Status != t.From {
		return false, nil
	}
	c.Status = t.To
	if t.HoldUntilDate != nil {
		hold := *t.HoldUntilDate
		c.HoldUntilDate = &hold
	}
	if t.ReleasedAt != nil {
		released := *t.ReleasedAt
		c.ReleasedAt = &released
	}
	c.UpdatedAt = t.At
	m.commissions[t.ID] = c
	return true, nil
}

// =============================================================================
// PAYOUTS
// =============================================================================

// WithPayoutTx runs fn under the write lock. On error the commission and
// payout maps are restored from a snapshot taken before fn ran.
func (m *Memory) WithPayoutTx(_ context.Context, fn func(commission.PayoutTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&payoutView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *Memory) GetPayout(_ context.Context, id commission.PayoutID) (commission.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payouts[id]
	if !ok {
		return commission.Payout{}, commission.ErrPayoutNotFound
	}
	return clonePayout(p), nil
}

func (m *Memory) ListPayouts(_ context.Context, agentID commission.AgentID) ([]commission.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []commission.Payout
	for i := len(m.payoutOrder) - 1; i >= 0; i-- {
		p := m.payouts[m.payoutOrder[i]]
		if p.AgentID == agentID {
			out = append(out, clonePayout(p))
		}
	}
	return out, nil
}

type memorySnapshot struct {
	commissions map[commission.CommissionID]commission.Commission
	payouts     map[commission.PayoutID]commission.Payout
	payoutOrder []commission.PayoutID
}

func (m *Memory) snapshot() memorySnapshot {
	cs := make(map[commission.CommissionID]commission.Commission, len(m.commissions))
	for k, v := range m.commissions {
		cs[k] = v
	}
	ps := make(map[commission.PayoutID]commission.Payout, len(m.payouts))
	for k, v := range m.payouts {
		ps[k] = v
	}
	return memorySnapshot{commissions: cs, payouts: ps, payoutOrder: slices.Clone(m.payoutOrder)}
}

func (m *Memory) restore(s memorySnapshot) {
	m.commissions = s.commissions
	m.payouts = s.payouts
	m.payoutOrder = s.payoutOrder
}

type payoutView struct {
	parent *Memory
}

func (v *payoutView) ListAvailable(_ context.Context, agentID commission.AgentID) ([]commission.Commission, error) {
	status := commission.StatusAvailable
	return v.parent.agentCommissionsLocked(agentID, &status), nil
}

func (v *payoutView) CreatePayout(_ context.Context, p commission.Payout) error {
	v.parent.payouts[p.ID] = clonePayout(p)
	v.parent.payoutOrder = append(v.parent.payoutOrder, p.ID)
	return nil
}

func (v *payoutView) MarkPaidOut(_ context.Context, id commission.CommissionID, payoutID commission.PayoutID, at time.Time) (bool, error) {
	c, ok := v.parent.commissions[id]
	if !ok {
		return false, commission.ErrCommissionNotFound
	}
	if c.Status != commission.StatusAvailable || c.PayoutID != nil {
		return false, nil
	}
	pid := payoutID
	c.Status = commission.StatusPaidOut
	c.PayoutID = &pid
	c.UpdatedAt = at
	v.parent.commissions[id] = c
	return true, nil
}

func clonePayout(p commission.Payout) commission.Payout {
	p.CommissionIDs = slices.Clone(p.CommissionIDs)
	return p
}

// =============================================================================
// EXECUTION LOGS
// =============================================================================

func (m *Memory) SaveExecutionLog(_ context.Context, l commission.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.Errors = slices.Clone(l.Errors)
	m.logs = append(m.logs, l)
	return nil
}

// ListExecutionLogs returns logs newest first.
func (m *Memory) ListExecutionLogs(_ context.Context, limit, offset int) ([]commission.ExecutionLog, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := slices.Clone(m.logs)
	slices.SortStableFunc(items, func(a, b commission.ExecutionLog) int {
		return b.ExecutionTime.Compare(a.ExecutionTime)
	})
	total := len(items)
	if offset >= total {
		return []commission.ExecutionLog{}, total, nil
	}
	end := min(offset+limit, total)
	return items[offset:end], total, nil
}
