package order

import (
	"time"

	"trading-core/internal/apperr"
)

// Submit acknowledges the order on the exchange: PENDING -> NEW.
func (o *Order) Submit(exchangeOrderID, clientID string) error {
	if o.Status != StatusPending {
		return apperr.InvalidTransition(o.Status, "Submit")
	}
	o.ExchangeOrderID = exchangeOrderID
	if clientID != "" {
		o.ClientID = clientID
	}
	o.Status = StatusNew
	o.SubmittedAt = time.Now()
	return nil
}

// Fill aggregates a partial or full execution. From {NEW, PARTIALLY_FILLED}
// to PARTIALLY_FILLED or FILLED: executed_quantity += q, executed_quote +=
// q*p, average_price recomputed, commission accumulated in the reported
// commission asset (no conversion).
func (o *Order) Fill(qty, price, commission float64, commissionAsset string) error {
	if o.Status != StatusNew && o.Status != StatusPartiallyFilled {
		return apperr.InvalidTransition(o.Status, "Fill")
	}
	o.Execution.ExecutedQuantity += qty
	o.Execution.ExecutedQuote += qty * price
	if o.Execution.ExecutedQuantity > 0 {
		o.Execution.AveragePrice = o.Execution.ExecutedQuote / o.Execution.ExecutedQuantity
	}
	o.Execution.Commission += commission
	if commissionAsset != "" {
		o.Execution.CommissionAsset = commissionAsset
	}
	o.FilledQty = o.Execution.ExecutedQuantity

	if o.Execution.ExecutedQuantity >= o.Qty {
		o.Status = StatusFilled
		o.FilledAt = time.Now()
	} else {
		o.Status = StatusPartiallyFilled
	}
	return nil
}

// Cancel transitions from {PENDING, NEW, PARTIALLY_FILLED} to CANCELLED.
func (o *Order) Cancel(reason string) error {
	switch o.Status {
	case StatusPending, StatusNew, StatusPartiallyFilled:
		o.Status = StatusCancelled
		o.CancelledAt = time.Now()
		o.ErrorMessage = reason
		return nil
	default:
		return apperr.InvalidTransition(o.Status, "Cancel")
	}
}

// Reject transitions from {PENDING, NEW} to REJECTED.
func (o *Order) Reject(reason string) error {
	switch o.Status {
	case StatusPending, StatusNew:
		o.Status = StatusRejected
		o.ErrorMessage = reason
		return nil
	default:
		return apperr.InvalidTransition(o.Status, "Reject")
	}
}
