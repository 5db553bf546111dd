package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"trading-core/pkg/db"
)

func trade(pnl float64, offsetSeconds int) db.TradeRecord {
	return db.TradeRecord{
		RealizedPnL: pnl,
		ExecutedAt:  time.Unix(1700000000+int64(offsetSeconds), 0),
	}
}

// TestRecomputeAppendsTradeAndUpdatesStreak rescans a trade history
// pnl=+50,+40,-20,+80, then a new +30 trade appended.
func TestRecomputeAppendsTradeAndUpdatesStreak(t *testing.T) {
	trades := []db.TradeRecord{
		trade(50, 0),
		trade(40, 1),
		trade(-20, 2),
		trade(80, 3),
		trade(30, 4),
	}

	got := Recompute(trades)

	assert.Equal(t, 5, got.TotalTrades)
	assert.Equal(t, 4, got.WinningTrades)
	assert.Equal(t, 1, got.LosingTrades)
	assert.InDelta(t, 180, got.TotalPnL, 1e-9)
	assert.Equal(t, 3, got.CurrentWinStreak)
	assert.Equal(t, 3, got.MaxWinStreak)
}

// TestRecomputeLosingIsZeroOrNegative confirms pnl <= 0 counts as losing.
func TestRecomputeLosingIsZeroOrNegative(t *testing.T) {
	got := Recompute([]db.TradeRecord{trade(0, 0), trade(-5, 1)})
	assert.Equal(t, 0, got.WinningTrades)
	assert.Equal(t, 2, got.LosingTrades)
}

// TestRecomputeInvariants checks winning+losing == total, and that at
// least one streak counter is zero.
func TestRecomputeInvariants(t *testing.T) {
	sets := [][]db.TradeRecord{
		{trade(10, 0), trade(-1, 1), trade(5, 2)},
		{trade(-1, 0), trade(-2, 1)},
		{},
	}
	for _, trades := range sets {
		got := Recompute(trades)
		assert.Equal(t, got.TotalTrades, got.WinningTrades+got.LosingTrades)
		assert.True(t, got.CurrentWinStreak == 0 || got.CurrentLossStreak == 0)
	}
}

// TestRecomputeEmpty exercises the zero-trade boundary.
func TestRecomputeEmpty(t *testing.T) {
	got := Recompute(nil)
	assert.Equal(t, Aggregate{}, got)
}
