package order

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exchange "trading-core/pkg/exchanges/common"
)

// fakeModifyGateway is a configurable stand-in for the real exchange gateway,
// letting a test independently control whether cancel and resubmit succeed.
type fakeModifyGateway struct {
	cancelErr error
	submitErr error
	cancelled []string
}

func (g *fakeModifyGateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if g.submitErr != nil {
		return exchange.OrderResult{}, g.submitErr
	}
	return exchange.OrderResult{ExchangeOrderID: "exch-" + req.ClientID, Status: exchange.StatusNew}, nil
}

func (g *fakeModifyGateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	g.cancelled = append(g.cancelled, exchangeOrderID)
	return g.cancelErr
}

func TestModifyOrderCancelsAndResubmitsOnNewPrice(t *testing.T) {
	e, database := newTestExecutor(t)
	gw := &fakeModifyGateway{}
	e.Gateway = gw
	e.Exchange = "test"
	ctx := context.Background()

	require.NoError(t, e.Handle(ctx, Order{
		ID: "order-1", UserID: "user-1", Symbol: "BTCUSDT", Side: "BUY", Type: "LIMIT",
		Price: 100, Qty: 1.0,
	}))

	replacement, err := e.ModifyOrder(ctx, "order-1", 105, 0)
	require.NoError(t, err)

	assert.NotEqual(t, "order-1", replacement.ID)
	assert.Equal(t, "order-1", replacement.ReplacesOrderID)
	assert.Equal(t, 105.0, replacement.Price)
	assert.Equal(t, []string{"exch-order-1"}, gw.cancelled)

	original, err := database.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, original)
	assert.Equal(t, StatusCancelled, original.Status)

	stored, err := database.GetOrder(ctx, replacement.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "NEW", stored.Status)
}

func TestModifyOrderLeavesOriginalUntouchedWhenCancelFails(t *testing.T) {
	e, database := newTestExecutor(t)
	gw := &fakeModifyGateway{cancelErr: fmt.Errorf("exchange: order already filled")}
	e.Gateway = gw
	e.Exchange = "test"
	ctx := context.Background()

	require.NoError(t, e.Handle(ctx, Order{
		ID: "order-2", UserID: "user-1", Symbol: "BTCUSDT", Side: "BUY", Type: "LIMIT",
		Price: 100, Qty: 1.0,
	}))

	_, err := e.ModifyOrder(ctx, "order-2", 105, 0)
	require.Error(t, err)

	original, err := database.GetOrder(ctx, "order-2")
	require.NoError(t, err)
	require.NotNil(t, original)
	assert.Equal(t, "NEW", original.Status, "cancel failure must leave the original order's status untouched")
}

// TestModifyOrderRejectsReplacementWhenResubmitFails covers the E2 edge
// case: cancel succeeds but the replacement fails to submit. The original
// must end up cancelled (the exchange already confirmed that), and the
// error returned must surface the original order's id so the caller knows
// which order needs manual reconciliation.
func TestModifyOrderRejectsReplacementWhenResubmitFails(t *testing.T) {
	e, database := newTestExecutor(t)
	gw := &fakeModifyGateway{}
	e.Gateway = gw
	e.Exchange = "test"
	ctx := context.Background()

	require.NoError(t, e.Handle(ctx, Order{
		ID: "order-3", UserID: "user-1", Symbol: "BTCUSDT", Side: "BUY", Type: "LIMIT",
		Price: 100, Qty: 1.0,
	}))

	gw.submitErr = fmt.Errorf("exchange: insufficient margin")

	replacement, err := e.ModifyOrder(ctx, "order-3", 105, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order-3")
	assert.Equal(t, "REJECTED", replacement.Status)

	original, err := database.GetOrder(ctx, "order-3")
	require.NoError(t, err)
	require.NotNil(t, original)
	assert.Equal(t, StatusCancelled, original.Status, "cancel already succeeded on the exchange, so the original stays cancelled")

	stored, err := database.GetOrder(ctx, replacement.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "REJECTED", stored.Status)
}

func TestModifyOrderRejectsUnknownOrder(t *testing.T) {
	e, _ := newTestExecutor(t)
	_, err := e.ModifyOrder(context.Background(), "missing", 105, 0)
	require.Error(t, err)
}
