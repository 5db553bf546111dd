package db

import (
	"context"
	"database/sql"
	"time"
)

// PositionRow is the full per-bot futures position row.
type PositionRow struct {
	ID               string
	UserID           string
	BotID            string
	Symbol           string
	Side             string // LONG, SHORT
	Qty              float64
	AvgPrice         float64
	Leverage         int
	MarginMode       string // CROSSED, ISOLATED
	MarginLocked     float64
	LiquidationPrice float64
	StopLoss         float64
	TakeProfit       float64
	Status           string // OPEN, CLOSED
	RealizedPnL      float64
	UnrealizedPnL    float64
	OpenedAt         time.Time
	ClosedAt         sql.NullTime
}

// OpenPosition inserts a new open position row.
func (d *Database) OpenPosition(ctx context.Context, p PositionRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (
			id, user_id, bot_id, symbol, side, qty, avg_price, leverage, margin_mode, margin_locked,
			liquidation_price, stop_loss, take_profit, status, opened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'OPEN', COALESCE(?, CURRENT_TIMESTAMP))
	`, p.ID, p.UserID, p.BotID, p.Symbol, p.Side, p.Qty, p.AvgPrice, p.Leverage, p.MarginMode, p.MarginLocked,
		p.LiquidationPrice, p.StopLoss, p.TakeProfit, p.OpenedAt)
	return err
}

// GetOpenPositionByBot returns a bot's single open position for a symbol, if any.
func (d *Database) GetOpenPositionByBot(ctx context.Context, botID, symbol string) (*PositionRow, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, bot_id, symbol, side, qty, avg_price, leverage, margin_mode, margin_locked,
			liquidation_price, stop_loss, take_profit, status, realized_pnl, unrealized_pnl, opened_at, closed_at
		FROM positions WHERE bot_id = ? AND symbol = ? AND status = 'OPEN'
	`, botID, symbol)
	var p PositionRow
	err := row.Scan(&p.ID, &p.UserID, &p.BotID, &p.Symbol, &p.Side, &p.Qty, &p.AvgPrice, &p.Leverage, &p.MarginMode, &p.MarginLocked,
		&p.LiquidationPrice, &p.StopLoss, &p.TakeProfit, &p.Status, &p.RealizedPnL, &p.UnrealizedPnL, &p.OpenedAt, &p.ClosedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePositionMark writes back recomputed unrealized P&L for an open position.
func (d *Database) UpdatePositionMark(ctx context.Context, id string, unrealizedPnL float64) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE positions SET unrealized_pnl = ? WHERE id = ?`, unrealizedPnL, id)
	return err
}

// ClosePosition marks a position closed with its realized P&L.
func (d *Database) ClosePosition(ctx context.Context, id string, realizedPnL float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE positions SET status = 'CLOSED', realized_pnl = ?, unrealized_pnl = 0, margin_locked = 0, closed_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, realizedPnL, id)
	return err
}

// ListOpenPositionsByUser returns every open position for a user, across bots.
func (d *Database) ListOpenPositionsByUser(ctx context.Context, userID string) ([]PositionRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, bot_id, symbol, side, qty, avg_price, leverage, margin_mode, margin_locked,
			liquidation_price, stop_loss, take_profit, status, realized_pnl, unrealized_pnl, opened_at, closed_at
		FROM positions WHERE user_id = ? AND status = 'OPEN'
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []PositionRow
	for rows.Next() {
		var p PositionRow
		if err := rows.Scan(&p.ID, &p.UserID, &p.BotID, &p.Symbol, &p.Side, &p.Qty, &p.AvgPrice, &p.Leverage, &p.MarginMode, &p.MarginLocked,
			&p.LiquidationPrice, &p.StopLoss, &p.TakeProfit, &p.Status, &p.RealizedPnL, &p.UnrealizedPnL, &p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
