package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModifyCancelsOriginalAndReplacesRemainingQty(t *testing.T) {
	o := &Order{
		ID:     "order-1",
		UserID: "user-1",
		Symbol: "BTCUSDT",
		Side:   "BUY",
		Type:   "LIMIT",
		Price:  100,
		Qty:    1.0,
		Status: StatusNew,
	}
	require.NoError(t, o.Fill(0.4, 100, 0, "USDT"))
	assert.Equal(t, StatusPartiallyFilled, o.Status)

	replacement, err := Modify(o, 105, 0)
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, "replaced by modify", o.ErrorMessage)

	assert.Equal(t, StatusPending, replacement.Status)
	assert.Equal(t, "order-1", replacement.ReplacesOrderID)
	assert.InDelta(t, 0.6, replacement.Qty, 1e-9)
	assert.Equal(t, 105.0, replacement.Price)
	assert.Equal(t, o.UserID, replacement.UserID)
	assert.NotEqual(t, o.ID, replacement.ID)
}

func TestModifyRejectsTerminalOrder(t *testing.T) {
	o := &Order{ID: "order-2", Status: StatusFilled, Qty: 1.0}
	_, err := Modify(o, 100, 1.0)
	require.Error(t, err)
}

func TestModifyKeepsOriginalPriceWhenNewPriceOmitted(t *testing.T) {
	o := &Order{ID: "order-3", Status: StatusNew, Price: 50, Qty: 2.0}
	replacement, err := Modify(o, 0, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 50.0, replacement.Price)
	assert.InDelta(t, 1.0, replacement.Qty, 1e-9)
}
