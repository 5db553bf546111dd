// Package bot implements a per-bot execution engine and lifecycle manager:
// one goroutine per running bot, each on its own ticker driving a single
// strategy instance. Every tick fetches the bot's symbol price from its
// resolved exchange gateway, passes it to the strategy, and routes any
// resulting signal into an order. This replaces a single shared tick loop
// that drove every loaded strategy from one goroutine subscribed to a
// shared price-tick bus.
package bot

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"trading-core/internal/events"
	"trading-core/internal/indicators"
	"trading-core/internal/order"
	"trading-core/internal/strategy"
	"trading-core/pkg/db"
	exchange "trading-core/pkg/exchanges/common"
)

// gracePeriod bounds how long Stop waits for an in-flight tick to finish
// before abandoning it: cooperative cancellation, where a strategy
// mid-tick is allowed to finish its current call but no new tick starts.
const gracePeriod = 10 * time.Second

// defaultInterval is used when a bot's persisted check interval is missing
// or non-positive.
const defaultInterval = 10 * time.Second

// maxConsecutiveFailures bounds how many transient gateway failures in a
// row an engine tolerates before treating the run as unrecoverable and
// transitioning the bot to ERROR.
const maxConsecutiveFailures = 5

// GatewayResolver resolves the exchange gateway a bot should trade through.
// The bool is false when no gateway could be resolved (missing/inactive
// connection), in which case the engine skips the tick rather than trading
// blind.
type GatewayResolver func(ctx context.Context, bot db.Bot) (exchange.Gateway, bool)

// Engine owns exactly one running bot: its strategy instance, its gateway
// resolution, and its lifecycle state. Exclusively owned — a strategy
// instance is never shared across bots even when two bots use the same
// strategy type.
type Engine struct {
	botID  string
	userID string
	symbol string

	bot      db.Bot
	strat    strategy.Strategy
	ind      *indicators.Engine
	bus      *events.Bus
	queue    order.OrderQueue
	database *db.Database

	resolveGateway GatewayResolver
	onFatal        func(reason string)

	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	busy   atomic.Bool
	done   chan struct{}

	consecutiveFailures int
}

// newEngine constructs an engine for a bot row plus its resolved strategy
// instance. Called exclusively from Manager.Start.
func newEngine(parent context.Context, b db.Bot, strat strategy.Strategy, database *db.Database, bus *events.Bus, queue order.OrderQueue, resolveGateway GatewayResolver, onFatal func(reason string)) *Engine {
	ctx, cancel := context.WithCancel(parent)

	interval := time.Duration(b.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Engine{
		botID:          b.ID,
		userID:         b.UserID,
		symbol:         b.Symbol,
		bot:            b,
		strat:          strat,
		ind:            indicators.NewEngine(9, 21, 14, 50),
		bus:            bus,
		queue:          queue,
		database:       database,
		resolveGateway: resolveGateway,
		onFatal:        onFatal,
		interval:       interval,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// run drives the bot's tick loop until its context is cancelled: fetch,
// decide, route, sleep until the next interval or cancellation, whichever
// is first. The first tick fires immediately on start rather than waiting
// a full interval.
func (e *Engine) run() {
	defer close(e.done)

	e.tick()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick is exactly one fetch/decide/route cycle. Exported to the package
// (lowercase, same-package only) so tests can drive it directly without
// waiting on real wall-clock intervals.
func (e *Engine) tick() {
	if e.ctx.Err() != nil {
		return
	}

	e.busy.Store(true)
	defer e.busy.Store(false)

	price, err := e.fetchPrice(e.ctx)
	if err != nil {
		e.handleTickError(err)
		return
	}
	e.consecutiveFailures = 0

	indVals := e.ind.Update(e.symbol, price)

	sig, err := e.strat.OnTick(e.symbol, price, indVals)
	if err != nil {
		log.Printf("bot %s: strategy tick error: %v", e.botID, err)
		e.setLastError(err.Error())
		return
	}
	if sig == nil || sig.Action == "HOLD" {
		return
	}

	e.onOrder(*sig, price)
}

// fetchPrice pulls the current price for the bot's symbol from its
// resolved gateway's ticker endpoint.
func (e *Engine) fetchPrice(ctx context.Context) (float64, error) {
	if e.resolveGateway == nil {
		return 0, fmt.Errorf("bot %s: no gateway resolver configured", e.botID)
	}
	gw, ok := e.resolveGateway(ctx, e.bot)
	if !ok || gw == nil {
		return 0, fmt.Errorf("bot %s: no gateway resolved for connection %s", e.botID, e.bot.ConnectionID)
	}
	fetcher, ok := gw.(exchange.TickerFetcher)
	if !ok {
		return 0, fmt.Errorf("bot %s: gateway does not support get_ticker", e.botID)
	}
	t, err := fetcher.GetTicker(ctx, e.symbol)
	if err != nil {
		return 0, err
	}
	return t.Price, nil
}

// handleTickError classifies a fetch/gateway failure: transient failures
// are logged and the tick is skipped, up to maxConsecutiveFailures in a
// row; anything else (or too many transients) transitions the bot to
// ERROR and stops the engine from continuing to tick.
func (e *Engine) handleTickError(err error) {
	e.setLastError(err.Error())

	// Only a classified, non-retryable gateway failure (bad auth, bad
	// request, unknown order) is treated as immediately fatal. Everything
	// else — network hiccups, rate limits, and this engine's own gateway
	// resolution failing because a connection is momentarily missing or
	// inactive — is transient and only escalates after repeated failures.
	fatal := false
	if gwErr, ok := err.(*exchange.GatewayError); ok && !gwErr.Retryable() {
		fatal = true
	}

	if !fatal {
		e.consecutiveFailures++
		if e.consecutiveFailures < maxConsecutiveFailures {
			log.Printf("bot %s: transient tick error (%d/%d): %v", e.botID, e.consecutiveFailures, maxConsecutiveFailures, err)
			return
		}
		log.Printf("bot %s: %d consecutive transient failures, treating as fatal: %v", e.botID, e.consecutiveFailures, err)
	} else {
		log.Printf("bot %s: fatal tick error: %v", e.botID, err)
	}

	// Persist strategy state directly rather than going through stop(): stop()
	// waits on e.done, which only closes once run() returns — but run() is
	// still blocked inside this very tick, so that would deadlock until the
	// grace period expired for no reason.
	e.saveState()
	if e.onFatal != nil {
		e.onFatal(err.Error())
	}
	e.cancel()
}

func (e *Engine) setLastError(msg string) {
	if e.database == nil {
		return
	}
	if err := e.database.SetBotLastError(context.Background(), e.botID, msg); err != nil {
		log.Printf("bot %s: failed to persist last_error: %v", e.botID, err)
	}
}

// onOrder is the engine's order callback: a non-HOLD signal is turned into
// a pending order, enqueued for the executor, and fanned out on the bus.
// Built-in strategies return a Signal from OnTick rather than calling back
// into the engine directly, so the engine itself plays the role of the
// injected callback, invoking it once per non-HOLD tick result.
func (e *Engine) onOrder(sig strategy.Signal, price float64) {
	qty := sig.Size
	if qty <= 0 {
		qty = e.bot.BaseQty
	}

	o := order.Order{
		ID:           fmt.Sprintf("bot-%s-%d", e.botID, time.Now().UnixNano()),
		UserID:       e.userID,
		BotID:        e.botID,
		ConnectionID: e.bot.ConnectionID,
		Symbol:       e.symbol,
		Side:         sig.Action,
		Type:         "MARKET",
		Qty:          qty,
		Price:        price,
		Status:       order.StatusPending,
		CreatedAt:    time.Now(),
	}

	if e.queue != nil {
		e.queue.Enqueue(o)
	}
	if e.bus != nil {
		e.bus.Publish(events.EventStrategySignal, sig)
	}
}

// stop cancels the engine's context and waits up to gracePeriod for an
// in-flight tick to finish, then persists the strategy's state.
func (e *Engine) stop() {
	e.cancel()

	select {
	case <-e.done:
	case <-time.After(gracePeriod):
		log.Printf("bot %s: grace period elapsed, forcing stop", e.botID)
	}

	e.saveState()
}

func (e *Engine) saveState() {
	state, err := e.strat.GetState()
	if err != nil {
		log.Printf("bot %s: get state failed: %v", e.botID, err)
		return
	}
	if _, err := e.database.DB.ExecContext(context.Background(), `
		INSERT INTO strategy_states (strategy_instance_id, state_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_instance_id) DO UPDATE SET state_data = excluded.state_data, updated_at = CURRENT_TIMESTAMP
	`, e.botID, string(state)); err != nil {
		log.Printf("bot %s: save state failed: %v", e.botID, err)
	}
}

func (e *Engine) restoreState() {
	var stateData string
	err := e.database.DB.QueryRow(`SELECT state_data FROM strategy_states WHERE strategy_instance_id = ?`, e.botID).Scan(&stateData)
	if err != nil {
		return
	}
	if err := e.strat.SetState([]byte(stateData)); err != nil {
		log.Printf("bot %s: restore state failed: %v", e.botID, err)
	}
}
