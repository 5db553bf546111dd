// Package portfolio implements the per-user balance and position
// invariants that sit between a bot's trading decisions and the
// exchange's margin account.
package portfolio

import (
	"context"
	"fmt"
	"time"

	"trading-core/internal/balance"
	"trading-core/internal/events"
	"trading-core/pkg/db"
)

// OpenRequest describes a position a bot wants to open.
type OpenRequest struct {
	ID         string
	UserID     string
	BotID      string
	Symbol     string
	Side       string // LONG, SHORT
	Qty        float64
	EntryPrice float64
	Leverage   int
	MarginMode string
	StopLoss   float64
	TakeProfit float64
}

// Portfolio enforces margin invariants around a user's balance.Manager and
// their positions table rows.
type Portfolio struct {
	database *db.Database
	balances *balance.MultiUserManager
	bus      *events.Bus
}

func New(database *db.Database, balances *balance.MultiUserManager, bus *events.Bus) *Portfolio {
	return &Portfolio{database: database, balances: balances, bus: bus}
}

// marginRequired is notional / leverage; leverage defaults to 1.
func marginRequired(qty, price float64, leverage int) float64 {
	if leverage < 1 {
		leverage = 1
	}
	return (qty * price) / float64(leverage)
}

// liquidationPrice is a simplified isolated-margin estimate: the price at
// which the position's unrealized loss consumes its locked margin.
func liquidationPrice(side string, entry float64, leverage int) float64 {
	if leverage < 1 {
		leverage = 1
	}
	maintenanceFrac := 1 / float64(leverage)
	if side == "SHORT" {
		return entry * (1 + maintenanceFrac)
	}
	return entry * (1 - maintenanceFrac)
}

// Open verifies free[quote] >= margin_required, locks that amount, creates
// the position row, and emits PositionOpened.
func (p *Portfolio) Open(ctx context.Context, req OpenRequest) (*db.PositionRow, error) {
	mgr, err := p.balances.GetOrCreate(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("portfolio: balance manager for %s: %w", req.UserID, err)
	}

	required := marginRequired(req.Qty, req.EntryPrice, req.Leverage)
	if required > mgr.GetAvailable() {
		return nil, fmt.Errorf("portfolio: insufficient free balance: need %.8f, have %.8f", required, mgr.GetAvailable())
	}
	if err := mgr.Lock(required); err != nil {
		return nil, fmt.Errorf("portfolio: lock margin: %w", err)
	}

	row := db.PositionRow{
		ID:               req.ID,
		UserID:           req.UserID,
		BotID:            req.BotID,
		Symbol:           req.Symbol,
		Side:             req.Side,
		Qty:              req.Qty,
		AvgPrice:         req.EntryPrice,
		Leverage:         req.Leverage,
		MarginMode:       req.MarginMode,
		MarginLocked:     required,
		LiquidationPrice: liquidationPrice(req.Side, req.EntryPrice, req.Leverage),
		StopLoss:         req.StopLoss,
		TakeProfit:       req.TakeProfit,
		OpenedAt:         time.Now(),
	}
	if err := p.database.OpenPosition(ctx, row); err != nil {
		mgr.Unlock(required)
		return nil, fmt.Errorf("portfolio: persist position: %w", err)
	}

	if p.bus != nil {
		p.bus.Publish(events.EventPositionOpened, row)
	}
	return &row, nil
}

// realizedPnL computes profit/loss on full closure at closePrice.
func realizedPnL(side string, qty, avgPrice, closePrice float64) float64 {
	if side == "SHORT" {
		return (avgPrice - closePrice) * qty
	}
	return (closePrice - avgPrice) * qty
}

// Close computes realized P&L at closePrice, unlocks margin, applies P&L to
// free balance, marks the position closed, and emits PositionClosed.
func (p *Portfolio) Close(ctx context.Context, pos db.PositionRow, closePrice float64, reason string) error {
	mgr, err := p.balances.GetOrCreate(pos.UserID)
	if err != nil {
		return fmt.Errorf("portfolio: balance manager for %s: %w", pos.UserID, err)
	}

	pnl := realizedPnL(pos.Side, pos.Qty, pos.AvgPrice, closePrice)
	mgr.Unlock(pos.MarginLocked)
	if pnl >= 0 {
		mgr.Add(pnl)
	} else {
		mgr.Deduct(-pnl)
	}

	if err := p.database.ClosePosition(ctx, pos.ID, pnl); err != nil {
		return fmt.Errorf("portfolio: close position: %w", err)
	}

	if p.bus != nil {
		p.bus.Publish(events.EventPositionClosed, map[string]any{
			"position_id":   pos.ID,
			"bot_id":        pos.BotID,
			"symbol":        pos.Symbol,
			"realized_pnl":  pnl,
			"close_price":   closePrice,
			"close_reason":  reason,
		})
	}
	return nil
}

// MarkPrice recomputes a position's unrealized P&L against the current
// price, and closes it at the liquidation price with close_reason
// "liquidation" when crossed. Returns true if the position was liquidated.
func (p *Portfolio) MarkPrice(ctx context.Context, pos db.PositionRow, price float64) (bool, error) {
	if liquidationCrossed(pos, price) {
		if p.bus != nil {
			p.bus.Publish(events.EventLiquidation, map[string]any{
				"position_id":       pos.ID,
				"bot_id":            pos.BotID,
				"symbol":            pos.Symbol,
				"liquidation_price": pos.LiquidationPrice,
			})
		}
		return true, p.Close(ctx, pos, pos.LiquidationPrice, "liquidation")
	}

	unrealized := realizedPnL(pos.Side, pos.Qty, pos.AvgPrice, price)
	return false, p.database.UpdatePositionMark(ctx, pos.ID, unrealized)
}

// FillRequest describes an executed order fill a bot needs reflected in its
// position: a bot carries at most one open position per symbol, so a fill
// either opens that position (no existing row) or closes it (existing row,
// opposite side). Same-side fills while already positioned are rejected —
// averaging into an existing position is out of scope.
type FillRequest struct {
	ID         string
	UserID     string
	BotID      string
	Symbol     string
	Side       string // BUY, SELL
	Qty        float64
	Price      float64
	Leverage   int
	MarginMode string
	StopLoss   float64
	TakeProfit float64
}

func positionSideForOrderSide(orderSide string) string {
	if orderSide == "SELL" {
		return "SHORT"
	}
	return "LONG"
}

// Fill applies an executed order fill to a bot's position: opens a new
// position when none exists, or closes the existing one when the fill is on
// the opposite side. Returns the position row affected and whether it was
// closed (vs. opened).
func (p *Portfolio) Fill(ctx context.Context, req FillRequest) (*db.PositionRow, bool, error) {
	existing, err := p.database.GetOpenPositionByBot(ctx, req.BotID, req.Symbol)
	if err != nil {
		return nil, false, fmt.Errorf("portfolio: lookup open position: %w", err)
	}

	wantSide := positionSideForOrderSide(req.Side)
	if existing == nil {
		row, err := p.Open(ctx, OpenRequest{
			ID:         req.ID,
			UserID:     req.UserID,
			BotID:      req.BotID,
			Symbol:     req.Symbol,
			Side:       wantSide,
			Qty:        req.Qty,
			EntryPrice: req.Price,
			Leverage:   req.Leverage,
			MarginMode: req.MarginMode,
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
		})
		return row, false, err
	}

	if existing.Side == wantSide {
		return existing, false, fmt.Errorf("portfolio: bot %s already holds a %s position on %s, averaging is unsupported", req.BotID, existing.Side, req.Symbol)
	}

	if err := p.Close(ctx, *existing, req.Price, "opposite_fill"); err != nil {
		return existing, true, err
	}
	return existing, true, nil
}

func liquidationCrossed(pos db.PositionRow, price float64) bool {
	if pos.LiquidationPrice <= 0 {
		return false
	}
	if pos.Side == "SHORT" {
		return price >= pos.LiquidationPrice
	}
	return price <= pos.LiquidationPrice
}

// StopLossTriggered reports whether the mark price has reached a position's
// stop-loss. Read-only: the caller decides whether and how to close.
func StopLossTriggered(pos db.PositionRow, price float64) bool {
	if pos.StopLoss <= 0 {
		return false
	}
	if pos.Side == "SHORT" {
		return price >= pos.StopLoss
	}
	return price <= pos.StopLoss
}

// TakeProfitTriggered reports whether the mark price has reached a
// position's take-profit. Read-only: the caller decides whether and how to
// close.
func TakeProfitTriggered(pos db.PositionRow, price float64) bool {
	if pos.TakeProfit <= 0 {
		return false
	}
	if pos.Side == "SHORT" {
		return price <= pos.TakeProfit
	}
	return price >= pos.TakeProfit
}
