package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/internal/balance"
	"trading-core/internal/events"
	"trading-core/pkg/db"
)

func newTestPortfolio(t *testing.T, initialBalance float64) (*Portfolio, *db.Database) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))

	balances := balance.NewMultiUserManager(func(userID string) (*balance.Manager, error) {
		mgr := balance.NewManager(nil, time.Hour)
		mgr.SetInitialBalance(initialBalance)
		return mgr, nil
	})

	return New(database, balances, events.NewBus()), database
}

func TestOpenLocksRequiredMargin(t *testing.T) {
	p, _ := newTestPortfolio(t, 1000)
	ctx := context.Background()

	pos, err := p.Open(ctx, OpenRequest{
		ID: "pos-1", UserID: "u1", BotID: "bot-1", Symbol: "BTCUSDT",
		Side: "LONG", Qty: 1, EntryPrice: 100, Leverage: 10, MarginMode: "ISOLATED",
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, pos.MarginLocked)

	mgr, err := p.balances.GetOrCreate("u1")
	require.NoError(t, err)
	assert.Equal(t, 990.0, mgr.GetAvailable())
}

func TestOpenRejectsInsufficientFreeBalance(t *testing.T) {
	p, _ := newTestPortfolio(t, 5)
	ctx := context.Background()

	_, err := p.Open(ctx, OpenRequest{
		ID: "pos-2", UserID: "u1", BotID: "bot-1", Symbol: "BTCUSDT",
		Side: "LONG", Qty: 1, EntryPrice: 100, Leverage: 1, MarginMode: "CROSSED",
	})
	assert.Error(t, err)
}

func TestCloseAppliesRealizedPnLAndUnlocksMargin(t *testing.T) {
	p, _ := newTestPortfolio(t, 1000)
	ctx := context.Background()

	pos, err := p.Open(ctx, OpenRequest{
		ID: "pos-3", UserID: "u1", BotID: "bot-1", Symbol: "ETHUSDT",
		Side: "LONG", Qty: 2, EntryPrice: 50, Leverage: 5, MarginMode: "ISOLATED",
	})
	require.NoError(t, err)

	require.NoError(t, p.Close(ctx, *pos, 60, "manual"))

	mgr, err := p.balances.GetOrCreate("u1")
	require.NoError(t, err)
	// margin unlocked (20) + 20 realized profit on top of the 980 left after lock
	assert.Equal(t, 1020.0, mgr.GetAvailable())
}

func TestMarkPriceLiquidatesWhenCrossed(t *testing.T) {
	p, database := newTestPortfolio(t, 1000)
	ctx := context.Background()

	pos, err := p.Open(ctx, OpenRequest{
		ID: "pos-4", UserID: "u1", BotID: "bot-1", Symbol: "BTCUSDT",
		Side: "LONG", Qty: 1, EntryPrice: 100, Leverage: 10, MarginMode: "ISOLATED",
	})
	require.NoError(t, err)
	require.InDelta(t, 90.0, pos.LiquidationPrice, 0.001)

	liquidated, err := p.MarkPrice(ctx, *pos, 85)
	require.NoError(t, err)
	assert.True(t, liquidated)

	open, err := database.GetOpenPositionByBot(ctx, "bot-1", "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestFillOpensPositionWhenNoneExists(t *testing.T) {
	p, database := newTestPortfolio(t, 1000)
	ctx := context.Background()

	pos, closed, err := p.Fill(ctx, FillRequest{
		ID: "pos-5", UserID: "u1", BotID: "bot-5", Symbol: "BTCUSDT",
		Side: "BUY", Qty: 1, Price: 100, Leverage: 10,
	})
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, "LONG", pos.Side)

	open, err := database.GetOpenPositionByBot(ctx, "bot-5", "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, open)
}

func TestFillClosesPositionOnOppositeSide(t *testing.T) {
	p, database := newTestPortfolio(t, 1000)
	ctx := context.Background()

	_, closed, err := p.Fill(ctx, FillRequest{
		ID: "pos-6", UserID: "u1", BotID: "bot-6", Symbol: "ETHUSDT",
		Side: "BUY", Qty: 2, Price: 50, Leverage: 5,
	})
	require.NoError(t, err)
	assert.False(t, closed)

	pos, closed, err := p.Fill(ctx, FillRequest{
		ID: "pos-7", UserID: "u1", BotID: "bot-6", Symbol: "ETHUSDT",
		Side: "SELL", Qty: 2, Price: 60, Leverage: 5,
	})
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, "LONG", pos.Side)

	open, err := database.GetOpenPositionByBot(ctx, "bot-6", "ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestFillRejectsAveragingSameSide(t *testing.T) {
	p, _ := newTestPortfolio(t, 1000)
	ctx := context.Background()

	_, _, err := p.Fill(ctx, FillRequest{
		ID: "pos-8", UserID: "u1", BotID: "bot-8", Symbol: "BTCUSDT",
		Side: "BUY", Qty: 1, Price: 100, Leverage: 10,
	})
	require.NoError(t, err)

	_, _, err = p.Fill(ctx, FillRequest{
		ID: "pos-9", UserID: "u1", BotID: "bot-8", Symbol: "BTCUSDT",
		Side: "BUY", Qty: 1, Price: 101, Leverage: 10,
	})
	assert.Error(t, err)
}

func TestStopLossAndTakeProfitPredicates(t *testing.T) {
	pos := db.PositionRow{Side: "LONG", StopLoss: 90, TakeProfit: 120}
	assert.True(t, StopLossTriggered(pos, 89))
	assert.False(t, StopLossTriggered(pos, 95))
	assert.True(t, TakeProfitTriggered(pos, 121))
	assert.False(t, TakeProfitTriggered(pos, 119))

	short := db.PositionRow{Side: "SHORT", StopLoss: 110, TakeProfit: 80}
	assert.True(t, StopLossTriggered(short, 111))
	assert.True(t, TakeProfitTriggered(short, 79))
}
