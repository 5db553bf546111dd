package order

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"trading-core/internal/apperr"
	"trading-core/internal/events"
	"trading-core/internal/gateway"
	"trading-core/internal/monitor"
	"trading-core/internal/portfolio"
	"trading-core/internal/stats"
	"trading-core/pkg/crypto"
	"trading-core/pkg/db"
	exfutcoin "trading-core/pkg/exchanges/binance/futures_coin"
	exfutusdt "trading-core/pkg/exchanges/binance/futures_usdt"
	exspot "trading-core/pkg/exchanges/binance/spot"
	exchange "trading-core/pkg/exchanges/common"

	"github.com/google/uuid"
)

// Executor persists orders, sends them to an exchange gateway, and emits updates.
type Executor struct {
	DB      *db.Database
	Bus     *events.Bus
	Gateway exchange.Gateway // global fallback gateway

	Exchange     string // name/id for logging (fallback)
	Testnet      bool
	SkipExchange bool                   // when true, never call external gateways (used by dry-run wrapper)
	Metrics      *monitor.SystemMetrics // optional, set by main.go

	// Bot fills: nil-safe, only exercised for orders carrying a BotID.
	Portfolio *portfolio.Portfolio
	Stats     *stats.Projector

	// GatewayPool is the multi-user, encryption-aware connection cache
	// (internal/gateway.Manager). When set, gatewayForStrategy/gatewayForBot
	// resolve through it instead of this executor's own single-user
	// connGateways cache below.
	GatewayPool *gateway.Manager

	// KeyMgr decrypts connection credentials in the no-pool fallback path.
	// Unset in dry-run/test setups that store plaintext credentials.
	KeyMgr *crypto.KeyManager

	mu           sync.RWMutex
	connGateways map[string]exchange.Gateway // connection_id -> gateway (single-user / no-pool fallback)
}

func NewExecutor(database *db.Database, bus *events.Bus, gw exchange.Gateway, venue string, testnet bool) *Executor {
	return &Executor{
		DB:           database,
		Bus:          bus,
		Gateway:      gw,
		Exchange:     venue,
		Testnet:      testnet,
		connGateways: make(map[string]exchange.Gateway),
	}
}

// SetGatewayPool injects the multi-user gateway pool. Once set, connection
// resolution for strategy- and bot-bound orders goes through it first.
func (e *Executor) SetGatewayPool(pool *gateway.Manager) {
	e.GatewayPool = pool
}

// SetKeyManager injects the credential decryptor used by the no-pool
// fallback connection resolution path.
func (e *Executor) SetKeyManager(km *crypto.KeyManager) {
	e.KeyMgr = km
}

func (e *Executor) Handle(ctx context.Context, o Order) error {
	if e.DB == nil {
		err := fmt.Errorf("executor: DB not configured")
		log.Println(err)
		return err
	}

	// Build exchange request with all advanced parameters
	req := exchange.OrderRequest{
		Symbol:       o.Symbol,
		Side:         exchange.Side(o.Side),
		Type:         exchange.OrderType(o.Type), // use actual order type from Order
		Qty:          o.Qty,
		Price:        o.Price,
		StopPrice:    o.StopPrice,
		TimeInForce:  exchange.TimeInForce(o.TimeInForce),
		IcebergQty:   o.IcebergQty,
		ClientID:     o.ID,
		ReduceOnly:   o.ReduceOnly,
		PositionSide: o.PositionSide,
		Market:       exchange.MarketType(o.Market), // route to correct market
		// Futures-specific
		WorkingType:     o.WorkingType,
		PriceProtect:    o.PriceProtect,
		ActivationPrice: o.ActivationPrice,
		CallbackRate:    o.CallbackRate,
	}

	// Publish submitted event
	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderSubmitted, o)
	}

	// Send to exchange (if configured)
	var exchID string
	status := "NEW"
	filled := false
	var execErr error

	if e.SkipExchange {
		log.Printf("executor: SkipExchange enabled, not sending order %s to external gateway", o.ID)
	} else {
		gw, venue := e.gatewayForOrder(ctx, o)
		if gw != nil {
			res, err := gw.SubmitOrder(ctx, req)
			if err != nil {
				log.Printf("executor: submit to %s failed: %v", venue, err)
				status = "REJECTED"
				execErr = err
				if e.Bus != nil {
					e.Bus.Publish(events.EventOrderRejected, err.Error())
				}
			} else {
				exchID = res.ExchangeOrderID
				status = string(res.Status)
				if e.Bus != nil {
					e.Bus.Publish(events.EventOrderAccepted, o)
					if res.Status == exchange.StatusFilled {
						e.Bus.Publish(events.EventOrderFilled, o)
						filled = true
					}
				}
			}
		} else {
			log.Printf("executor: no gateway resolved for order %s, marking as REJECTED (no external send)", o.ID)
			status = "REJECTED"
			execErr = fmt.Errorf("no gateway resolved")
			if e.Bus != nil {
				e.Bus.Publish(events.EventOrderRejected, "no gateway for order")
			}
		}
	}

	model := db.Order{
		ID:                 o.ID,
		StrategyInstanceID: o.StrategyInstanceID,
		BotID:              o.BotID,
		ConnectionID:       o.ConnectionID,
		Symbol:             o.Symbol,
		Side:               o.Side,
		Price:              o.Price,
		Qty:                o.Qty,
		Status:             status,
		UserID:             o.UserID,
		ExchangeOrderID:    exchID,
		ReplacesOrderID:    o.ReplacesOrderID,
		CreatedAt:          time.Now(),
	}
	if execErr != nil {
		model.ErrorMessage = execErr.Error()
	}
	if err := e.DB.CreateOrder(ctx, model); err != nil {
		log.Printf("executor: store order error: %v", err)
		return err
	}

	// If filled, store a trade row (price may be 0 for market; will be reconciled later)
	if filled {
		trade := db.Trade{
			ID:        uuid.NewString(),
			OrderID:   model.ID,
			Symbol:    model.Symbol,
			Side:      model.Side,
			Price:     model.Price,
			Qty:       model.Qty,
			Fee:       0,
			CreatedAt: time.Now(),
		}
		if err := e.DB.CreateTrade(ctx, trade); err != nil {
			log.Printf("executor: store trade error: %v", err)
		}

		// Update Strategy Position
		if model.StrategyInstanceID != "" {
			if err := e.DB.UpdateStrategyPosition(ctx, model.StrategyInstanceID, model.Symbol, model.Side, model.Qty, model.Price); err != nil {
				log.Printf("executor: update strategy position error: %v", err)
			}
		}

		if o.BotID != "" {
			e.recordBotFill(ctx, o, trade.ID, model.Price)
		}
	}

	log.Printf("executor: stored order %s %s qty=%.6f exch_id=%s", model.Symbol, model.Side, model.Qty, exchID)

	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderUpdate, model)
	}

	return execErr
}

// ModifyOrder implements the cancel-and-replace path: the original order is
// cancelled on its exchange, then a replacement is submitted for the
// remaining quantity at the new price/qty via the same resolution Handle
// uses. If cancel itself fails the original order is left untouched and the
// cancel error is returned as-is. If cancel succeeds but the replacement
// fails to submit, the user is never left with both active: the replacement
// comes back REJECTED (already persisted by Handle) and ModifyOrder returns
// an error that surfaces the original order's id, since that's the one the
// caller now has to reconcile manually.
func (e *Executor) ModifyOrder(ctx context.Context, orderID string, newPrice, newQty float64) (Order, error) {
	row, err := e.DB.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, apperr.Wrap(apperr.Internal, "ORDER_LOOKUP_FAILED", "failed to load order", err)
	}
	if row == nil {
		return Order{}, apperr.New(apperr.NotFound, "ORDER_NOT_FOUND", fmt.Sprintf("order %s not found", orderID))
	}
	if !IsActiveStatus(row.Status) {
		return Order{}, apperr.InvalidTransition(row.Status, "Modify")
	}

	o := Order{
		ID:                 row.ID,
		UserID:             row.UserID,
		StrategyInstanceID: row.StrategyInstanceID,
		BotID:              row.BotID,
		ConnectionID:       row.ConnectionID,
		Symbol:             row.Symbol,
		Side:               row.Side,
		Price:              row.Price,
		Qty:                row.Qty,
		FilledQty:          row.FilledQty,
		Status:             row.Status,
	}

	if !e.SkipExchange {
		gw, venue := e.gatewayForOrder(ctx, o)
		if gw == nil {
			return Order{}, apperr.New(apperr.ExchangeConnectivity, "NO_GATEWAY", fmt.Sprintf("no gateway resolved for order %s", orderID))
		}
		if row.ExchangeOrderID == "" {
			return Order{}, apperr.New(apperr.Invariant, "NO_EXCHANGE_ORDER_ID", fmt.Sprintf("order %s has no exchange order id to cancel", orderID))
		}
		if err := gw.CancelOrder(ctx, row.Symbol, row.ExchangeOrderID); err != nil {
			log.Printf("executor: cancel on %s failed for order %s: %v", venue, orderID, err)
			return Order{}, apperr.Wrap(apperr.ExchangeRejected, "CANCEL_FAILED", "failed to cancel original order", err)
		}
	}

	replacement, err := Modify(&o, newPrice, newQty)
	if err != nil {
		return Order{}, err
	}

	if err := e.DB.UpdateOrderStatus(ctx, row.ID, StatusCancelled); err != nil {
		log.Printf("executor: failed to persist cancellation of order %s: %v", row.ID, err)
	}

	if err := e.Handle(ctx, replacement); err != nil {
		// The original is already cancelled on the exchange and in storage;
		// the replacement came back REJECTED. Surface the original id so the
		// caller knows exactly which order needs manual reconciliation.
		replacement.Status = StatusRejected
		return replacement, apperr.Wrap(apperr.ExchangeRejected, "REPLACEMENT_REJECTED",
			fmt.Sprintf("original order %s was cancelled but its replacement was rejected", row.ID), err)
	}

	return replacement, nil
}

// gatewayForOrder picks an exchange gateway for the given order based on its strategy binding.
// It falls back to the global gateway when no per-connection binding is found.
func (e *Executor) gatewayForOrder(ctx context.Context, o Order) (exchange.Gateway, string) {
	// If the order is associated with a strategy, try to resolve a connection-specific gateway.
	if o.StrategyInstanceID != "" {
		gw, venue, ok := e.gatewayForStrategy(ctx, o.StrategyInstanceID)
		if ok {
			return gw, venue
		}
		// No gateway for this strategy and no fallback: do not hit exchange.
		return nil, ""
	}

	// Bot-originated orders bind to a connection through the owning bot row.
	if o.BotID != "" {
		gw, venue, ok := e.gatewayForBot(ctx, o.BotID)
		if ok {
			return gw, venue
		}
		return nil, ""
	}

	// Fallback to global gateway if present.
	if e.Gateway != nil {
		return e.Gateway, e.Exchange
	}
	return nil, ""
}

// ResolveBotGateway exposes gatewayForBot for the bot package's poll-loop
// engine (internal/bot.GatewayResolver), so bots fetch prices and route
// orders through the same connection resolution the executor itself uses.
func (e *Executor) ResolveBotGateway(ctx context.Context, botID string) (exchange.Gateway, bool) {
	gw, _, ok := e.gatewayForBot(ctx, botID)
	return gw, ok
}

// gatewayForBot resolves a connection-bound gateway for a bot-originated
// order, mirroring gatewayForStrategy but joining through bots.connection_id
// instead of strategy_instances.connection_id.
func (e *Executor) gatewayForBot(ctx context.Context, botID string) (exchange.Gateway, string, bool) {
	if e.DB == nil {
		return nil, "", false
	}

	row := e.DB.DB.QueryRowContext(ctx, `
		SELECT c.id, c.user_id, c.exchange_type, c.api_key, c.api_secret
		FROM bots b
		JOIN connections c ON b.connection_id = c.id
		WHERE b.id = ? AND c.is_active = 1
	`, botID)

	var connID, userID, exchangeType, apiKey, apiSecret string
	if err := row.Scan(&connID, &userID, &exchangeType, &apiKey, &apiSecret); err != nil {
		if err != sql.ErrNoRows {
			log.Printf("executor: failed to resolve connection for bot %s: %v", botID, err)
		}
		return nil, "", false
	}

	if gw, ok := e.gatewayFromPool(ctx, userID, connID, exchangeType); ok {
		return gw, exchangeType, true
	}
	return e.gatewayForConnection(connID, exchangeType, apiKey, apiSecret)
}

func (e *Executor) gatewayForStrategy(ctx context.Context, strategyID string) (exchange.Gateway, string, bool) {
	if e.DB == nil {
		return nil, "", false
	}

	// Lookup bound connection for this strategy.
	row := e.DB.DB.QueryRowContext(ctx, `
		SELECT c.id, c.user_id, c.exchange_type, c.api_key, c.api_secret
		FROM strategy_instances si
		JOIN connections c ON si.connection_id = c.id
		WHERE si.id = ? AND c.is_active = 1
	`, strategyID)

	var connID, userID, exchangeType, apiKey, apiSecret string
	if err := row.Scan(&connID, &userID, &exchangeType, &apiKey, &apiSecret); err != nil {
		if err != sql.ErrNoRows {
			log.Printf("executor: failed to resolve connection for strategy %s: %v", strategyID, err)
		}
		return nil, "", false
	}

	if gw, ok := e.gatewayFromPool(ctx, userID, connID, exchangeType); ok {
		return gw, exchangeType, true
	}
	return e.gatewayForConnection(connID, exchangeType, apiKey, apiSecret)
}

// gatewayFromPool resolves through the injected multi-user gateway pool when
// one is configured, so connection credentials go through its decryption and
// LRU/health-check machinery instead of this executor's own plaintext cache.
func (e *Executor) gatewayFromPool(ctx context.Context, userID, connID, exchangeType string) (exchange.Gateway, bool) {
	if e.GatewayPool == nil {
		return nil, false
	}
	gw, err := e.GatewayPool.GetOrCreate(ctx, userID, connID)
	if err != nil {
		log.Printf("executor: gateway pool failed for connection %s (%s): %v", connID, exchangeType, err)
		return nil, false
	}
	return gw, true
}

// gatewayForConnection returns a cached gateway for connID, creating and
// caching one if this is the first use. Used when no GatewayPool is
// configured (single-user / dry-run setups).
func (e *Executor) gatewayForConnection(connID, exchangeType, apiKey, apiSecret string) (exchange.Gateway, string, bool) {
	e.mu.RLock()
	gw, ok := e.connGateways[connID]
	e.mu.RUnlock()
	if ok && gw != nil {
		return gw, exchangeType, true
	}

	if e.KeyMgr != nil {
		if dec, err := e.KeyMgr.Decrypt(apiKey); err == nil {
			apiKey = dec
		}
		if dec, err := e.KeyMgr.Decrypt(apiSecret); err == nil {
			apiSecret = dec
		}
	}

	// Create a new gateway for this connection.
	var newGw exchange.Gateway
	switch exchangeType {
	case "binance-spot":
		newGw = exspot.New(exspot.Config{
			APIKey:    apiKey,
			APISecret: apiSecret,
			Testnet:   e.Testnet,
		})
	case "binance-usdtfut":
		newGw = exfutusdt.NewClient(exfutusdt.Config{
			APIKey:    apiKey,
			APISecret: apiSecret,
			Testnet:   e.Testnet,
		})
	case "binance-coinfut":
		newGw = exfutcoin.NewClient(exfutcoin.Config{
			APIKey:    apiKey,
			APISecret: apiSecret,
			Testnet:   e.Testnet,
		})
	default:
		log.Printf("executor: unsupported exchange_type %q for connection %s", exchangeType, connID)
		return nil, "", false
	}

	if newGw == nil {
		return nil, "", false
	}

	e.mu.Lock()
	e.connGateways[connID] = newGw
	e.mu.Unlock()

	return newGw, exchangeType, true
}

// recordBotFill applies a bot-originated order's fill to its position
// (opening or closing it) and records the trade for stats projection. Both
// steps are best-effort: a failure here doesn't unwind the already-persisted
// order/trade rows, it only logs, since the fill already happened on the
// exchange side.
func (e *Executor) recordBotFill(ctx context.Context, o Order, tradeID string, fillPrice float64) {
	realizedPnL := 0.0
	if e.Portfolio != nil {
		pos, closed, err := e.Portfolio.Fill(ctx, portfolio.FillRequest{
			ID:       uuid.NewString(),
			UserID:   o.UserID,
			BotID:    o.BotID,
			Symbol:   o.Symbol,
			Side:     o.Side,
			Qty:      o.Qty,
			Price:    fillPrice,
			Leverage: o.Leverage,
		})
		if err != nil {
			log.Printf("executor: bot %s position fill error: %v", o.BotID, err)
		} else if closed && pos != nil {
			realizedPnL = closedPositionPnL(pos.Side, pos.Qty, pos.AvgPrice, fillPrice)
		}
	}

	if e.Stats != nil {
		if err := e.Stats.RecordTrade(ctx, db.TradeRecord{
			ID:          tradeID,
			OrderID:     o.ID,
			BotID:       o.BotID,
			UserID:      o.UserID,
			Symbol:      o.Symbol,
			Side:        o.Side,
			Price:       fillPrice,
			Qty:         o.Qty,
			RealizedPnL: realizedPnL,
			ExecutedAt:  time.Now(),
		}); err != nil {
			log.Printf("executor: bot %s stats record error: %v", o.BotID, err)
		}
	}
}

// closedPositionPnL mirrors internal/portfolio's closing P&L formula so the
// stats projector's per-trade RealizedPnL matches what Portfolio.Close
// already applied to the user's balance.
func closedPositionPnL(side string, qty, avgPrice, closePrice float64) float64 {
	if side == "SHORT" {
		return (avgPrice - closePrice) * qty
	}
	return (closePrice - avgPrice) * qty
}
