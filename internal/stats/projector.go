// Package stats implements a trade recorder and stats projector: inserting
// a trade is the single pivot event that recomputes a bot's cumulative and
// streak statistics by rescanning its full trade history, rather than
// maintaining incremental running totals that drift out of sync over time.
package stats

import (
	"context"
	"fmt"

	"trading-core/internal/events"
	"trading-core/pkg/db"
)

// BotStatsUpdate is the payload fanned out on events.EventBotStatsUpdate.
type BotStatsUpdate struct {
	BotID             string
	UserID            string
	TotalTrades       int
	WinningTrades     int
	LosingTrades      int
	TotalPnL          float64
	CurrentWinStreak  int
	CurrentLossStreak int
	MaxWinStreak      int
	MaxLossStreak     int
}

// Projector recomputes bot statistics transactionally on every trade insert.
type Projector struct {
	db  *db.Database
	bus *events.Bus
}

func NewProjector(database *db.Database, bus *events.Bus) *Projector {
	return &Projector{db: database, bus: bus}
}

// RecordTrade inserts the trade and recomputes the owning bot's stats in one
// transaction; the fan-out publish follows commit. It is idempotent on
// TradeRecord.ExchangeTradeID: a duplicate insert is a no-op and no fan-out
// event fires for it.
func (p *Projector) RecordTrade(ctx context.Context, t db.TradeRecord) error {
	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("stats: begin tx: %w", err)
	}
	defer tx.Rollback()

	inserted, err := p.db.InsertTradeTx(ctx, tx, t)
	if err != nil {
		return fmt.Errorf("stats: insert trade: %w", err)
	}
	if !inserted {
		return tx.Commit()
	}

	trades, err := p.db.ListTradesByBotTx(ctx, tx, t.BotID)
	if err != nil {
		return fmt.Errorf("stats: list trades: %w", err)
	}

	agg := Recompute(trades)

	if err := p.db.UpdateBotStats(ctx, tx, t.BotID,
		agg.TotalTrades, agg.WinningTrades, agg.LosingTrades, agg.TotalPnL,
		agg.CurrentWinStreak, agg.CurrentLossStreak, agg.MaxWinStreak, agg.MaxLossStreak,
	); err != nil {
		return fmt.Errorf("stats: update bot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stats: commit: %w", err)
	}

	if p.bus != nil {
		p.bus.Publish(events.EventBotStatsUpdate, BotStatsUpdate{
			BotID:             t.BotID,
			UserID:            t.UserID,
			TotalTrades:       agg.TotalTrades,
			WinningTrades:     agg.WinningTrades,
			LosingTrades:      agg.LosingTrades,
			TotalPnL:          agg.TotalPnL,
			CurrentWinStreak:  agg.CurrentWinStreak,
			CurrentLossStreak: agg.CurrentLossStreak,
			MaxWinStreak:      agg.MaxWinStreak,
			MaxLossStreak:     agg.MaxLossStreak,
		})
	}
	return nil
}

// Aggregate is the pure-function output of a full rescan, kept separate from
// the transactional wrapper so it is directly unit-testable against fixed
// trade sets.
type Aggregate struct {
	TotalTrades       int
	WinningTrades     int
	LosingTrades      int
	TotalPnL          float64
	CurrentWinStreak  int
	CurrentLossStreak int
	MaxWinStreak      int
	MaxLossStreak     int
}

// Recompute scans trades (already ordered by execution time ascending) and
// derives totals and streaks. A trade with realized_pnl <= 0 counts as
// losing — a scratch trade is not a win.
func Recompute(trades []db.TradeRecord) Aggregate {
	var a Aggregate
	a.TotalTrades = len(trades)

	winStreak, lossStreak := 0, 0
	for _, t := range trades {
		a.TotalPnL += t.RealizedPnL
		if t.RealizedPnL > 0 {
			a.WinningTrades++
			winStreak++
			lossStreak = 0
			if winStreak > a.MaxWinStreak {
				a.MaxWinStreak = winStreak
			}
		} else {
			a.LosingTrades++
			lossStreak++
			winStreak = 0
			if lossStreak > a.MaxLossStreak {
				a.MaxLossStreak = lossStreak
			}
		}
	}
	a.CurrentWinStreak = winStreak
	a.CurrentLossStreak = lossStreak
	return a
}
