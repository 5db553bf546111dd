package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/internal/events"
	"trading-core/pkg/db"
)

func newTestExecutor(t *testing.T) (*Executor, *db.Database) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))
	return NewExecutor(database, events.NewBus(), nil, "", true), database
}

func TestGatewayForBotResolvesConnectionBoundGateway(t *testing.T) {
	e, database := newTestExecutor(t)
	ctx := context.Background()

	require.NoError(t, database.CreateConnection(ctx, db.Connection{
		ID: "conn-1", UserID: "u1", ExchangeType: "binance-spot", Name: "main",
		APIKey: "key", APISecret: "secret", IsActive: true,
	}))
	require.NoError(t, database.CreateBot(ctx, db.Bot{
		ID: "bot-1", UserID: "u1", StrategyID: "strat-1", ConnectionID: "conn-1", Symbol: "BTCUSDT",
	}))

	gw, venue, ok := e.gatewayForBot(ctx, "bot-1")
	require.True(t, ok)
	assert.NotNil(t, gw)
	assert.Equal(t, "binance-spot", venue)

	// Second call reuses the cached gateway instance.
	gw2, _, ok2 := e.gatewayForBot(ctx, "bot-1")
	require.True(t, ok2)
	assert.Same(t, gw, gw2)
}

func TestGatewayForBotFailsWithNoConnection(t *testing.T) {
	e, database := newTestExecutor(t)
	ctx := context.Background()

	require.NoError(t, database.CreateBot(ctx, db.Bot{
		ID: "bot-2", UserID: "u1", StrategyID: "strat-1", ConnectionID: "missing-conn", Symbol: "BTCUSDT",
	}))

	gw, _, ok := e.gatewayForBot(ctx, "bot-2")
	assert.False(t, ok)
	assert.Nil(t, gw)
}

func TestGatewayForOrderPrefersBotOverGlobalFallback(t *testing.T) {
	e, database := newTestExecutor(t)
	ctx := context.Background()

	require.NoError(t, database.CreateConnection(ctx, db.Connection{
		ID: "conn-3", UserID: "u1", ExchangeType: "binance-usdtfut", Name: "fut",
		APIKey: "key", APISecret: "secret", IsActive: true,
	}))
	require.NoError(t, database.CreateBot(ctx, db.Bot{
		ID: "bot-3", UserID: "u1", StrategyID: "strat-1", ConnectionID: "conn-3", Symbol: "BTCUSDT",
	}))

	gw, venue := e.gatewayForOrder(ctx, Order{ID: "o-1", BotID: "bot-3", Symbol: "BTCUSDT"})
	require.NotNil(t, gw)
	assert.Equal(t, "binance-usdtfut", venue)
}

func TestGatewayForOrderRejectsBotWithNoConnectionAndNoFallback(t *testing.T) {
	e, database := newTestExecutor(t)
	ctx := context.Background()

	require.NoError(t, database.CreateBot(ctx, db.Bot{
		ID: "bot-4", UserID: "u1", StrategyID: "strat-1", ConnectionID: "missing", Symbol: "BTCUSDT",
	}))

	gw, venue := e.gatewayForOrder(ctx, Order{ID: "o-2", BotID: "bot-4", Symbol: "BTCUSDT"})
	assert.Nil(t, gw)
	assert.Equal(t, "", venue)
}
