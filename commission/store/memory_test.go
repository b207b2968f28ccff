package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/commission-engine/commission"
	"github.com/warp/commission-engine/commission/store"
)

var t0 = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

func available(t *testing.T, m *store.Memory, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.CreateCommission(ctx, commission.Commission{
		ID: commission.CommissionID(id), BookingID: commission.BookingID("bk-" + id), AgentID: "agent-1",
		Status: commission.StatusAvailable, Components: commission.Components{Flight: decimal.NewFromInt(5)},
	}))
}

func TestMemory_WithPayoutTxRestoresOnError(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	available(t, m, "a")

	err := m.WithPayoutTx(ctx, func(tx commission.PayoutTx) error {
		require.NoError(t, tx.CreatePayout(ctx, commission.Payout{ID: "po-1", AgentID: "agent-1", CommissionIDs: []commission.CommissionID{"a"}}))
		ok, err := tx.MarkPaidOut(ctx, "a", "po-1", t0)
		require.NoError(t, err)
		require.True(t, ok)
		return errors.New("abort")
	})

	require.Error(t, err)
	c, err := m.GetCommission(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, commission.StatusAvailable, c.Status)
	assert.Nil(t, c.PayoutID)
	_, err = m.GetPayout(ctx, "po-1")
	assert.ErrorIs(t, err, commission.ErrPayoutNotFound)
}

func TestMemory_MarkPaidOutOnlyOnce(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	available(t, m, "a")

	err := m.WithPayoutTx(ctx, func(tx commission.PayoutTx) error {
		first, err := tx.MarkPaidOut(ctx, "a", "po-1", t0)
		require.NoError(t, err)
		second, err := tx.MarkPaidOut(ctx, "a", "po-2", t0)
		require.NoError(t, err)
		assert.True(t, first)
		assert.False(t, second)
		return nil
	})

	require.NoError(t, err)
}

func TestMemory_DuplicateBooking(t *testing.T) {
	m := store.NewMemory()
	available(t, m, "a")

	err := m.CreateCommission(context.Background(), commission.Commission{ID: "b", BookingID: "bk-a"})

	assert.ErrorIs(t, err, commission.ErrDuplicateBooking)
}

func TestMemory_ExecutionLogsNewestFirst(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	for i, id := range []string{"old", "newest", "middle"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		require.NoError(t, m.SaveExecutionLog(ctx, commission.ExecutionLog{ID: id, ExecutionTime: t0.Add(offsets[i])}))
	}

	logs, total, err := m.ListExecutionLogs(ctx, 2, 0)

	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, logs, 2)
	assert.Equal(t, "newest", logs[0].ID)
	assert.Equal(t, "middle", logs[1].ID)

	logs, _, err = m.ListExecutionLogs(ctx, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
