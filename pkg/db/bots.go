package db

import (
	"context"
	"database/sql"
	"time"
)

// Bot is the persisted row backing internal/bot's lifecycle manager. It
// replaces a conflated strategy_instances row: a Bot references a
// Strategy (definition) and a Connection, and carries its own cumulative
// stats/streak columns recomputed by internal/stats.
type Bot struct {
	ID                string
	UserID            string
	StrategyID        string
	ConnectionID      string
	Symbol            string
	BaseQty           float64
	QuoteQty          float64
	TakeProfitPct     float64
	StopLossPct       float64
	StrategySettings  string // JSON, opaque to this layer
	CheckIntervalSecs int
	Status            string // PAUSED, RUNNING, ERROR
	RiskLevel         string
	TotalTrades       int
	WinningTrades     int
	LosingTrades      int
	TotalPnL          float64
	CurrentWinStreak  int
	CurrentLossStreak int
	MaxWinStreak      int
	MaxLossStreak     int
	LastError         string
	ActiveOrderIDs    string // JSON array, opaque
	StartedAt         sql.NullTime
	StoppedAt         sql.NullTime
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const botColumns = `id, user_id, strategy_id, connection_id, symbol, base_qty, quote_qty,
	take_profit_pct, stop_loss_pct, strategy_settings, check_interval_seconds, status, risk_level,
	total_trades, winning_trades, losing_trades, total_pnl,
	current_win_streak, current_loss_streak, max_win_streak, max_loss_streak,
	last_error, active_order_ids, started_at, stopped_at, created_at, updated_at`

func scanBot(row interface {
	Scan(dest ...any) error
}) (Bot, error) {
	var b Bot
	err := row.Scan(
		&b.ID, &b.UserID, &b.StrategyID, &b.ConnectionID, &b.Symbol, &b.BaseQty, &b.QuoteQty,
		&b.TakeProfitPct, &b.StopLossPct, &b.StrategySettings, &b.CheckIntervalSecs, &b.Status, &b.RiskLevel,
		&b.TotalTrades, &b.WinningTrades, &b.LosingTrades, &b.TotalPnL,
		&b.CurrentWinStreak, &b.CurrentLossStreak, &b.MaxWinStreak, &b.MaxLossStreak,
		&b.LastError, &b.ActiveOrderIDs, &b.StartedAt, &b.StoppedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

// CreateBot inserts a new bot row in PAUSED status.
func (d *Database) CreateBot(ctx context.Context, b Bot) error {
	if b.Status == "" {
		b.Status = "PAUSED"
	}
	if b.CheckIntervalSecs == 0 {
		b.CheckIntervalSecs = 10
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bots (
			id, user_id, strategy_id, connection_id, symbol, base_qty, quote_qty,
			take_profit_pct, stop_loss_pct, strategy_settings, check_interval_seconds, status, risk_level
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.UserID, b.StrategyID, b.ConnectionID, b.Symbol, b.BaseQty, b.QuoteQty,
		b.TakeProfitPct, b.StopLossPct, b.StrategySettings, b.CheckIntervalSecs, b.Status, b.RiskLevel)
	return err
}

// GetBot fetches a bot by id.
func (d *Database) GetBot(ctx context.Context, id string) (*Bot, error) {
	row := d.DB.QueryRowContext(ctx, "SELECT "+botColumns+" FROM bots WHERE id = ?", id)
	b, err := scanBot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBotsByUser returns every bot owned by a user.
func (d *Database) ListBotsByUser(ctx context.Context, userID string) ([]Bot, error) {
	rows, err := d.DB.QueryContext(ctx, "SELECT "+botColumns+" FROM bots WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// ListBotsByStatus returns all bots in a given status, used by the
// reconciliation job (internal/jobs handler reconcile_bot_status) to find
// storage-RUNNING bots with no live engine.
func (d *Database) ListBotsByStatus(ctx context.Context, status string) ([]Bot, error) {
	rows, err := d.DB.QueryContext(ctx, "SELECT "+botColumns+" FROM bots WHERE status = ?", status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// SetBotRunning atomically marks a bot RUNNING with a fresh start
// timestamp and clears last_error.
func (d *Database) SetBotRunning(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET status = 'RUNNING', started_at = CURRENT_TIMESTAMP, last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	return err
}

// SetBotPaused marks a bot PAUSED with a stop timestamp.
func (d *Database) SetBotPaused(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET status = 'PAUSED', stopped_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	return err
}

// SetBotError marks a bot ERROR and records the failure message.
func (d *Database) SetBotError(ctx context.Context, id, lastError string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET status = 'ERROR', last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, lastError, id)
	return err
}

// SetBotLastError records a non-fatal tick failure message without
// changing the bot's status, so a transient gateway hiccup is visible
// without knocking a RUNNING bot into ERROR.
func (d *Database) SetBotLastError(ctx context.Context, id, lastError string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, lastError, id)
	return err
}

// UpdateBotStrategySettings overwrites a bot's per-instance strategy
// parameter override (opaque JSON, interpreted by internal/strategy).
func (d *Database) UpdateBotStrategySettings(ctx context.Context, id, settingsJSON string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET strategy_settings = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, settingsJSON, id)
	return err
}

// UpdateBotConnection rebinds a bot to a different exchange connection.
func (d *Database) UpdateBotConnection(ctx context.Context, id, connectionID string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET connection_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, connectionID, id)
	return err
}

// UpdateBotStats persists the full-rescan output of internal/stats.
func (d *Database) UpdateBotStats(ctx context.Context, tx *sql.Tx, id string, totalTrades, winning, losing int, totalPnL float64, curWin, curLoss, maxWin, maxLoss int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE bots SET
			total_trades = ?, winning_trades = ?, losing_trades = ?, total_pnl = ?,
			current_win_streak = ?, current_loss_streak = ?, max_win_streak = ?, max_loss_streak = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, totalTrades, winning, losing, totalPnL, curWin, curLoss, maxWin, maxLoss, id)
	return err
}
