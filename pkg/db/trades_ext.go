package db

import (
	"context"
	"database/sql"
	"time"
)

// TradeRecord is the full Trade entity, extending the legacy Trade struct
// with the bot/user ownership and idempotency key the stats projector
// (internal/stats) needs.
type TradeRecord struct {
	ID              string
	OrderID         string
	BotID           string
	UserID          string
	Symbol          string
	Side            string
	Price           float64
	Qty             float64
	Commission      float64
	CommissionAsset string
	RealizedPnL     float64
	ExchangeTradeID string
	ExecutedAt      time.Time
}

// BeginTx starts a transaction; internal/stats uses this to make trade
// insert + stats recompute + bot row update one atomic unit.
func (d *Database) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return d.DB.BeginTx(ctx, nil)
}

// InsertTradeTx inserts a trade row inside an existing transaction.
// Returns (false, nil) without error when the exchange_trade_id already
// exists: inserting a trade with the same exchange_trade_id twice leaves
// the trades table and bot stats unchanged after the second call.
func (d *Database) InsertTradeTx(ctx context.Context, tx *sql.Tx, t TradeRecord) (bool, error) {
	if t.ExchangeTradeID != "" {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT id FROM trades WHERE exchange_trade_id = ?`, t.ExchangeTradeID).Scan(&existing)
		if err == nil {
			return false, nil
		}
		if err != sql.ErrNoRows {
			return false, err
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trades (
			id, order_id, bot_id, user_id, symbol, side, price, qty,
			fee, commission_asset, realized_pnl, exchange_trade_id, executed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.OrderID, t.BotID, t.UserID, t.Symbol, t.Side, t.Price, t.Qty,
		t.Commission, t.CommissionAsset, t.RealizedPnL, nullIfEmpty(t.ExchangeTradeID), t.ExecutedAt, t.ExecutedAt)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListTradesByBotTx returns every trade for a bot ordered by execution
// time, the scan internal/stats performs on every insert.
func (d *Database) ListTradesByBotTx(ctx context.Context, tx *sql.Tx, botID string) ([]TradeRecord, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, order_id, bot_id, user_id, symbol, side, price, qty,
			fee, commission_asset, realized_pnl, exchange_trade_id, executed_at
		FROM trades WHERE bot_id = ? ORDER BY executed_at ASC, created_at ASC
	`, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var exchangeTradeID sql.NullString
		if err := rows.Scan(&t.ID, &t.OrderID, &t.BotID, &t.UserID, &t.Symbol, &t.Side, &t.Price, &t.Qty,
			&t.Commission, &t.CommissionAsset, &t.RealizedPnL, &exchangeTradeID, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.ExchangeTradeID = exchangeTradeID.String
		res = append(res, t)
	}
	return res, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
