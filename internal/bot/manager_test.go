package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/internal/apperr"
	"trading-core/internal/events"
	"trading-core/internal/order"
	"trading-core/internal/strategy"
	"trading-core/pkg/db"
	exchange "trading-core/pkg/exchanges/common"
)

// stubGateway feeds a fixed, steadily rising sequence of prices off of its
// ticker endpoint so a poll-driven engine can be exercised without a real
// exchange or wall-clock sleeps.
type stubGateway struct {
	price float64
	step  float64
}

func (g *stubGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, nil
}
func (g *stubGateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	return nil
}
func (g *stubGateway) GetTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	g.price += g.step
	return exchange.Ticker{Symbol: symbol, Price: g.price}, nil
}

func newTestManager(t *testing.T) (*Manager, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))
	t.Cleanup(func() { database.Close() })

	bus := events.NewBus()
	queue := order.NewQueue(10)
	return NewManager(database, bus, queue, strategy.NewRegistry()), database
}

func seedBot(t *testing.T, database *db.Database, status string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, database.CreateStrategy(ctx, db.StrategyDef{
		ID: "strat-1", UserID: "user-1", Name: "Scalping", Type: "ma_cross",
		Parameters: `{"fast":9,"slow":21,"size":0.01}`, IsActive: true,
	}))
	require.NoError(t, database.CreateBot(ctx, db.Bot{
		ID: "bot-B", UserID: "user-1", StrategyID: "strat-1", ConnectionID: "conn-1",
		Symbol: "BTCUSDT", BaseQty: 0.01, CheckIntervalSecs: 10, Status: status,
	}))
	return "bot-B"
}

// TestStartThenStop exercises the basic start/stop lifecycle transition.
func TestStartThenStop(t *testing.T) {
	mgr, database := newTestManager(t)
	botID := seedBot(t, database, "PAUSED")
	ctx := context.Background()

	require.NoError(t, mgr.Start(ctx, botID))

	b, err := database.GetBot(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", b.Status)
	assert.True(t, b.StartedAt.Valid)
	assert.Empty(t, b.LastError)
	assert.True(t, mgr.IsRunning(botID))

	require.NoError(t, mgr.Stop(ctx, botID))

	b, err = database.GetBot(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, "PAUSED", b.Status)
	assert.True(t, b.StoppedAt.Valid)
	assert.False(t, mgr.IsRunning(botID))
}

// TestStartFromRunningIsRejected confirms starting an already-running bot
// is rejected as a conflict rather than silently accepted.
func TestStartFromRunningIsRejected(t *testing.T) {
	mgr, database := newTestManager(t)
	botID := seedBot(t, database, "PAUSED")
	ctx := context.Background()

	require.NoError(t, mgr.Start(ctx, botID))
	err := mgr.Start(ctx, botID)

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Invariant))
	assert.True(t, mgr.IsRunning(botID))

	require.NoError(t, mgr.Stop(ctx, botID))
}

// TestStartRecoversStaleEngineMapEntry covers the case where the engines
// map holds an entry for a bot whose persisted status is not RUNNING (e.g.
// a previous run exited between evicting the map and the status update).
// Start must treat the stale entry as recoverable — stop it and proceed —
// rather than permanently refusing to restart the bot.
func TestStartRecoversStaleEngineMapEntry(t *testing.T) {
	mgr, database := newTestManager(t)
	botID := seedBot(t, database, "PAUSED")
	ctx := context.Background()

	strat, err := mgr.registry.Instantiate("ma_cross", botID, "BTCUSDT", []byte(`{"fast":9,"slow":21,"size":0.01}`))
	require.NoError(t, err)
	stale := newEngine(context.Background(), db.Bot{ID: botID, Symbol: "BTCUSDT"}, strat, database, mgr.bus, mgr.queue, nil, nil)
	stale.cancel()
	close(stale.done) // simulate a run() goroutine that already exited

	mgr.mu.Lock()
	mgr.engines[botID] = stale
	mgr.mu.Unlock()

	// Persisted status says PAUSED even though the map has a live-looking
	// entry — Start should recover, not reject.
	require.NoError(t, mgr.Start(ctx, botID))

	assert.True(t, mgr.IsRunning(botID))
	assert.True(t, stale.ctx.Err() != nil, "stale engine should have been stopped")

	b, err := database.GetBot(ctx, botID)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", b.Status)

	require.NoError(t, mgr.Stop(ctx, botID))
}

func TestStopNotRunningReturnsNotRunning(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.Stop(context.Background(), "missing-bot")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotRunning)
}

func TestStopAllStopsEveryRunningBot(t *testing.T) {
	mgr, database := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, database.CreateStrategy(ctx, db.StrategyDef{
		ID: "strat-1", UserID: "user-1", Name: "Scalping", Type: "ma_cross",
		Parameters: `{}`, IsActive: true,
	}))
	for _, id := range []string{"bot-1", "bot-2"} {
		require.NoError(t, database.CreateBot(ctx, db.Bot{
			ID: id, UserID: "user-1", StrategyID: "strat-1", ConnectionID: "conn-1",
			Symbol: "BTCUSDT", BaseQty: 0.01, Status: "PAUSED",
		}))
		require.NoError(t, mgr.Start(ctx, id))
	}

	require.NoError(t, mgr.StopAll(ctx))
	assert.Empty(t, mgr.RunningIds())
}

// TestEngineEmitsOrderOnSignal drives an engine's tick directly (never
// starting its real-time ticker goroutine, to avoid racing this test's own
// calls) through enough rising-price polls to cross the ma_cross fast/slow
// periods, and asserts the resulting BUY signal reaches the order queue.
func TestEngineEmitsOrderOnSignal(t *testing.T) {
	mgr, database := newTestManager(t)
	botID := seedBot(t, database, "PAUSED")
	ctx := context.Background()

	def, err := database.GetStrategy(ctx, "strat-1")
	require.NoError(t, err)
	strat, err := mgr.registry.Instantiate(def.Type, botID, "BTCUSDT", []byte(def.Parameters))
	require.NoError(t, err)

	gw := &stubGateway{price: 100, step: 1}
	eng := newEngine(ctx, db.Bot{ID: botID, UserID: "user-1", Symbol: "BTCUSDT", BaseQty: 0.01}, strat, database, mgr.bus, mgr.queue,
		func(context.Context, db.Bot) (exchange.Gateway, bool) { return gw, true }, nil)

	for i := 0; i < 30 && mgr.queue.Len() == 0; i++ {
		eng.tick()
	}

	assert.Greater(t, mgr.queue.Len(), 0, "expected a BUY order to reach the queue")
}

// TestEngineSkipsTickOnTransientGatewayError keeps ticking without
// crashing or flipping the bot to ERROR when no gateway can be resolved,
// for fewer ticks than the consecutive-failure threshold.
func TestEngineSkipsTickOnTransientGatewayError(t *testing.T) {
	mgr, database := newTestManager(t)
	botID := seedBot(t, database, "PAUSED")
	ctx := context.Background()

	def, err := database.GetStrategy(ctx, "strat-1")
	require.NoError(t, err)
	strat, err := mgr.registry.Instantiate(def.Type, botID, "BTCUSDT", []byte(def.Parameters))
	require.NoError(t, err)

	fatal := false
	eng := newEngine(ctx, db.Bot{ID: botID, UserID: "user-1", Symbol: "BTCUSDT"}, strat, database, mgr.bus, mgr.queue,
		func(context.Context, db.Bot) (exchange.Gateway, bool) { return nil, false },
		func(reason string) { fatal = true })

	for i := 0; i < maxConsecutiveFailures-1; i++ {
		eng.tick()
	}

	assert.False(t, fatal, "should still be below the failure threshold")
	assert.Nil(t, eng.ctx.Err())
}
