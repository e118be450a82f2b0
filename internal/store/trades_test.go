package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armada/internal/position"
)

func newTestStore(t *testing.T) *TradeStore {
	t.Helper()
	s, err := NewTradeStore(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func closeAt(account string, pnl float64, closedAt time.Time) position.TradeClose {
	return position.TradeClose{
		PositionID: "pos-" + account,
		AccountID:  account,
		Strategy:   "trend_cross",
		Symbol:     "BTCUSDT",
		Side:       "LONG",
		Size:       1,
		EntryPrice: 100,
		ExitPrice:  100 + pnl,
		PnL:        pnl,
		Reason:     "target",
		OpenedAt:   closedAt.Add(-2 * time.Hour),
		ClosedAt:   closedAt,
	}
}

func TestRecordAndQueryTrades(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordClose(closeAt("alpha", 12.5, now)))
	require.NoError(t, s.RecordClose(closeAt("alpha", -4, now.Add(time.Hour))))
	require.NoError(t, s.RecordClose(closeAt("bravo", 7, now)))

	rows, err := s.RecentTrades(10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	// newest first
	assert.Equal(t, -4.0, rows[0].PnL)
}

func TestDailySummary(t *testing.T) {
	s := newTestStore(t)
	dayStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordClose(closeAt("alpha", 10, dayStart.Add(3*time.Hour))))
	require.NoError(t, s.RecordClose(closeAt("alpha", -3, dayStart.Add(5*time.Hour))))
	require.NoError(t, s.RecordClose(closeAt("bravo", 6, dayStart.Add(6*time.Hour))))
	// previous day, excluded
	require.NoError(t, s.RecordClose(closeAt("alpha", 99, dayStart.Add(-2*time.Hour))))

	summary, err := s.DailySummary(dayStart)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "alpha", summary[0].AccountID)
	assert.Equal(t, 2, summary[0].Trades)
	assert.InDelta(t, 7.0, summary[0].PnL, 1e-9)
	assert.Equal(t, "bravo", summary[1].AccountID)

	pnl, err := s.RealizedToday("alpha", dayStart)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, pnl, 1e-9)

	none, err := s.RealizedToday("ghost", dayStart)
	require.NoError(t, err)
	assert.Zero(t, none)
}
