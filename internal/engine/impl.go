package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"trading-core/internal/bot"
	"trading-core/internal/events"
	"trading-core/internal/order"
	"trading-core/pkg/db"
)

// Impl implements the Service interface over the bot orchestration layer:
// every "strategy" the API talks about is a Bot row plus its live engine,
// not a standalone strategy_instances tick loop.
type Impl struct {
	bots       *bot.Manager
	orderQueue order.OrderQueue
	bus        *events.Bus
	db         *db.Database

	// System metadata
	meta SystemStatus
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	Bots       *bot.Manager
	OrderQueue order.OrderQueue
	Bus        *events.Bus
	DB         *db.Database
	Meta       SystemStatus
}

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	return &Impl{
		bots:       cfg.Bots,
		orderQueue: cfg.OrderQueue,
		bus:        cfg.Bus,
		db:         cfg.DB,
		meta:       cfg.Meta,
	}
}

// --- Strategy Commands (operate on the bot a given id names) ---

func (e *Impl) StartStrategy(ctx context.Context, id string) error {
	if e.bots == nil {
		return fmt.Errorf("bot manager not available")
	}
	return e.bots.Start(ctx, id)
}

func (e *Impl) PauseStrategy(ctx context.Context, id string) error {
	if e.bots == nil {
		return fmt.Errorf("bot manager not available")
	}
	return e.bots.Stop(ctx, id)
}

// StopStrategy has no state distinct from Pause in the Bot model: a bot is
// either RUNNING or PAUSED/ERROR, never "stopped" as a third terminal state.
func (e *Impl) StopStrategy(ctx context.Context, id string) error {
	return e.PauseStrategy(ctx, id)
}

// PanicSellStrategy closes a bot's open position immediately with a MARKET
// order sized to flatten it, then pauses the bot so it stops generating new
// signals while the closing order works its way through the gateway.
func (e *Impl) PanicSellStrategy(ctx context.Context, id string, userID string) error {
	if e.db == nil {
		return fmt.Errorf("database not available")
	}
	b, err := e.db.GetBot(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load bot: %w", err)
	}
	if b == nil {
		return fmt.Errorf("bot %s not found", id)
	}

	pos, err := e.db.GetOpenPositionByBot(ctx, id, b.Symbol)
	if err != nil {
		return fmt.Errorf("failed to get position: %w", err)
	}
	if pos == nil || pos.Qty == 0 {
		return fmt.Errorf("no position to close")
	}

	side := "SELL"
	if pos.Side == "SHORT" {
		side = "BUY"
	}
	qty := pos.Qty
	if qty < 0 {
		qty = -qty
	}

	panicOrder := order.Order{
		ID:           fmt.Sprintf("panic-%s-%d", id, time.Now().UnixMilli()),
		UserID:       userID,
		BotID:        id,
		ConnectionID: b.ConnectionID,
		Symbol:       b.Symbol,
		Side:         side,
		Type:         "MARKET",
		Qty:          qty,
		ReduceOnly:   true,
	}

	if e.orderQueue != nil {
		e.orderQueue.Enqueue(panicOrder)
	}
	if e.bus != nil {
		e.bus.Publish(events.EventStrategySignal, map[string]any{
			"bot_id": id,
			"action": "PANIC_SELL",
			"side":   side,
			"qty":    qty,
		})
	}

	if e.bots != nil {
		_ = e.bots.Stop(ctx, id)
	}
	return nil
}

// UpdateStrategyParams overwrites a bot's per-instance strategy parameter
// override. Takes effect the next time the bot is started, since the engine
// instantiates a fresh strategy from these parameters on Start.
func (e *Impl) UpdateStrategyParams(ctx context.Context, id string, params map[string]any) error {
	if e.db == nil {
		return fmt.Errorf("database not available")
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	return e.db.UpdateBotStrategySettings(ctx, id, string(paramsJSON))
}

func (e *Impl) BindStrategyConnection(ctx context.Context, strategyID, userID, connectionID string) error {
	if e.db == nil {
		return fmt.Errorf("database not available")
	}
	return e.db.UpdateBotConnection(ctx, strategyID, connectionID)
}

// --- Strategy Queries ---

func (e *Impl) ListStrategies(ctx context.Context, userID string) ([]StrategyInfo, error) {
	rows, err := e.db.DB.QueryContext(ctx, `
		SELECT
			b.id, s.name, s.type, b.symbol, COALESCE(s.parameters, '{}'), b.status,
			b.user_id, b.connection_id, c.name, c.exchange_type,
			b.created_at, b.updated_at
		FROM bots b
		JOIN strategies s ON b.strategy_id = s.id
		LEFT JOIN connections c ON b.connection_id = c.id
		WHERE b.user_id = ?
		ORDER BY b.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strategies []StrategyInfo
	for rows.Next() {
		var s StrategyInfo
		var paramsJSON, ownerID string
		var connectionID, connectionName, connectionType sql.NullString

		if err := rows.Scan(
			&s.ID, &s.Name, &s.Type, &s.Symbol, &paramsJSON, &s.Status,
			&ownerID, &connectionID, &connectionName, &connectionType,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			continue
		}

		_ = json.Unmarshal([]byte(paramsJSON), &s.Parameters)
		s.IsActive = s.Status == "RUNNING"
		s.UserID = &ownerID
		s.ConnectionID = nullableString(connectionID)
		s.ConnectionName = nullableString(connectionName)
		s.ConnectionExchangeType = nullableString(connectionType)

		strategies = append(strategies, s)
	}

	return strategies, rows.Err()
}

func (e *Impl) GetStrategyStatus(ctx context.Context, id string) (*StrategyStatus, error) {
	b, err := e.db.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("bot %s not found", id)
	}

	status := StrategyStatus{ID: id, Status: b.Status}
	if pos, err := e.db.GetOpenPositionByBot(ctx, id, b.Symbol); err == nil && pos != nil {
		status.Position = pos.Qty
		status.PnL = pos.UnrealizedPnL
	}
	return &status, nil
}

func (e *Impl) GetStrategyPosition(ctx context.Context, id string) (float64, error) {
	b, err := e.db.GetBot(ctx, id)
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 0, fmt.Errorf("bot %s not found", id)
	}
	pos, err := e.db.GetOpenPositionByBot(ctx, id, b.Symbol)
	if err != nil {
		return 0, err
	}
	if pos == nil {
		return 0, nil
	}
	return pos.Qty, nil
}

// --- Position & Order Queries ---

func (e *Impl) GetPositions(ctx context.Context) ([]Position, error) {
	dbPositions, err := e.db.ListPositions(ctx)
	if err != nil {
		return nil, err
	}

	positions := make([]Position, len(dbPositions))
	for i, p := range dbPositions {
		positions[i] = Position{
			Symbol:     p.Symbol,
			Quantity:   p.Qty,
			EntryPrice: p.AvgPrice,
			UpdatedAt:  p.UpdatedAt,
		}
	}
	return positions, nil
}

func (e *Impl) GetOpenOrders(ctx context.Context) ([]Order, error) {
	dbOrders, err := e.db.ListOpenOrders(ctx)
	if err != nil {
		return nil, err
	}

	orders := make([]Order, len(dbOrders))
	for i, o := range dbOrders {
		orders[i] = Order{
			ID:                 o.ID,
			StrategyInstanceID: o.StrategyInstanceID,
			Symbol:             o.Symbol,
			Side:               o.Side,
			Price:              o.Price,
			Qty:                o.Qty,
			Status:             o.Status,
			CreatedAt:          o.CreatedAt,
		}
	}
	return orders, nil
}

// --- Risk & Performance ---

func (e *Impl) GetRiskMetrics(ctx context.Context) (*RiskMetrics, error) {
	today := time.Now().Format("2006-01-02")
	var metrics RiskMetrics
	metrics.Date = today

	err := e.db.DB.QueryRowContext(ctx, `
		SELECT daily_pnl, daily_trades, daily_wins, daily_losses
		FROM risk_metrics WHERE date = ?
	`, today).Scan(&metrics.DailyPnL, &metrics.DailyTrades, &metrics.DailyWins, &metrics.DailyLosses)

	if err == sql.ErrNoRows {
		return &metrics, nil // Return zeros
	}
	if err != nil {
		return nil, err
	}

	return &metrics, nil
}

// GetStrategyPerformance aggregates a bot's realized trade P&L by day,
// using the same trades.bot_id binding internal/stats writes per fill.
func (e *Impl) GetStrategyPerformance(ctx context.Context, id string, from, to time.Time) (*Performance, error) {
	rows, err := e.db.DB.QueryContext(ctx, `
		SELECT date(created_at) as d, SUM(realized_pnl) as pnl
		FROM trades
		WHERE bot_id = ? AND created_at >= ? AND created_at <= ?
		GROUP BY date(created_at)
		ORDER BY d ASC
	`, id, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perf := &Performance{
		StrategyID: id,
		From:       from.Format("2006-01-02"),
		To:         to.Add(-24 * time.Hour).Format("2006-01-02"),
	}

	var equity float64
	for rows.Next() {
		var d string
		var pnl float64
		if err := rows.Scan(&d, &pnl); err != nil {
			continue
		}
		equity += pnl
		perf.Daily = append(perf.Daily, DailyPnL{Date: d, PnL: pnl, Equity: equity})
	}
	perf.TotalPnL = equity

	return perf, rows.Err()
}

// --- Balance ---

// GetBalance is only reached when no per-user balance manager is wired
// (internal/api.Server.getBalance prefers that path); this implementation
// has no process-wide balance to fall back to.
func (e *Impl) GetBalance(ctx context.Context) (*BalanceInfo, error) {
	return nil, fmt.Errorf("balance is per-user only; no global balance manager configured")
}

// --- System ---

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	status := e.meta
	status.ServerTime = time.Now().UTC()
	return &status
}

// --- Helpers ---

func nullableString(ns sql.NullString) *string {
	if ns.Valid {
		val := ns.String
		return &val
	}
	return nil
}
