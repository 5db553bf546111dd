package common

import (
	"context"
	"time"
)

// Gateway abstracts a trading venue. The mandatory surface is place/cancel;
// the remaining capabilities (get_order, list_open_orders, get_account,
// get_ticker, get_recent_candles, test_connectivity, stream_user_events,
// stream_market_events, close) are optional per-adapter and probed via
// type assertion, matching the gateway.Manager's existing
// `cached.Gateway.(interface{ Close() error })` pattern rather than
// forcing every adapter to implement every capability.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
}

// OrderQuerier is implemented by adapters that can fetch a single order's
// canonical status (used by reconciliation).
type OrderQuerier interface {
	GetOrder(ctx context.Context, symbol, exchangeOrderID string) (OrderResult, error)
}

// OpenOrderLister is implemented by adapters that can list all locally-active
// orders on the venue (used by reconciliation's drift sweep).
type OpenOrderLister interface {
	ListOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error)
}

// Ticker is a minimal market snapshot.
type Ticker struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// TickerFetcher is implemented by adapters exposing get_ticker.
type TickerFetcher interface {
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// CandleFetcher is implemented by adapters exposing get_recent_candles.
type CandleFetcher interface {
	GetRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// ConnectivityTester is implemented by adapters exposing test_connectivity.
type ConnectivityTester interface {
	TestConnectivity(ctx context.Context) error
}

// AccountFetcher is implemented by adapters exposing get_account.
type AccountFetcher interface {
	GetAccount(ctx context.Context) (map[string]any, error)
}

// Closer releases any keep-alive connections/background goroutines the
// adapter holds; gateway.Manager probes for this on eviction.
type Closer interface {
	Close() error
}
