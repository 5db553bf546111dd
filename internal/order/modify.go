package order

import (
	"time"

	"trading-core/internal/apperr"

	"github.com/google/uuid"
)

// Modify implements cancel-and-replace: an active order is cancelled and a
// fresh PENDING order is constructed with the requested price/qty, carrying
// ReplacesOrderID so downstream consumers (stats, reconciliation) can trace
// the substitution back to the original. Only PENDING/NEW/PARTIALLY_FILLED
// orders can be modified; a partially filled order is replaced only for its
// remaining (unfilled) quantity.
func Modify(o *Order, newPrice, newQty float64) (Order, error) {
	if !IsActiveStatus(o.Status) {
		return Order{}, apperr.InvalidTransition(o.Status, "Modify")
	}

	remaining := o.RemainingQty()
	if newQty > 0 {
		remaining = newQty
	}
	if remaining <= 0 {
		return Order{}, apperr.New(apperr.Invariant, "INVALID_MODIFY_QTY", "replacement quantity must be positive")
	}

	if err := o.Cancel("replaced by modify"); err != nil {
		return Order{}, err
	}

	replacement := Order{
		ID:                 uuid.NewString(),
		UserID:             o.UserID,
		StrategyInstanceID: o.StrategyInstanceID,
		BotID:              o.BotID,
		ConnectionID:       o.ConnectionID,
		Symbol:             o.Symbol,
		Side:               o.Side,
		Type:               o.Type,
		Price:              newPrice,
		StopPrice:          o.StopPrice,
		Qty:                remaining,
		TimeInForce:        o.TimeInForce,
		ReduceOnly:         o.ReduceOnly,
		PositionSide:       o.PositionSide,
		Market:             o.Market,
		Leverage:           o.Leverage,
		MarginMode:         o.MarginMode,
		Status:             StatusPending,
		ReplacesOrderID:    o.ID,
		CreatedAt:          time.Now(),
	}
	if newPrice <= 0 {
		replacement.Price = o.Price
	}
	return replacement, nil
}
