package fanout

import (
	"sync"

	"trading-core/internal/events"
	"trading-core/internal/stats"
	"trading-core/pkg/db"
	market "trading-core/pkg/market/binance"
)

// Hub owns every live session and relays bus events to the sessions
// subscribed to their channel and, for market data, their symbol.
type Hub struct {
	bus *events.Bus

	mu       sync.RWMutex
	sessions map[*Session]struct{}

	unsubPrice func()
	unsubOrder func()
	unsubStats func()
	unsubRisk  func()
	unsubBot   func()
}

// NewHub wires listeners on the shared bus once, fanning each event out to
// every registered session whose subscriptions match.
func NewHub(bus *events.Bus) *Hub {
	h := &Hub{bus: bus, sessions: make(map[*Session]struct{})}

	priceCh, unsubPrice := bus.Subscribe(events.EventPriceTick, 256)
	orderCh, unsubOrder := bus.Subscribe(events.EventOrderUpdate, 256)
	statsCh, unsubStats := bus.Subscribe(events.EventBotStatsUpdate, 256)
	riskCh, unsubRisk := bus.Subscribe(events.EventRiskAlertRaised, 256)
	botCh, unsubBot := bus.Subscribe(events.EventBotStatusChanged, 256)

	h.unsubPrice, h.unsubOrder, h.unsubStats, h.unsubRisk, h.unsubBot =
		unsubPrice, unsubOrder, unsubStats, unsubRisk, unsubBot

	go h.relayMarket(priceCh)
	go h.relayOrders(orderCh)
	go h.relayStats(statsCh)
	go h.relayRisk(riskCh)
	go h.relayBotStatus(botCh)

	return h
}

// Register adds a session to the fan-out set.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
}

// Unregister removes a session; callers should also call Session.Close.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) relayMarket(ch <-chan any) {
	for msg := range ch {
		k, ok := msg.(market.Kline)
		if !ok {
			continue
		}
		for _, s := range h.snapshot() {
			if s.hasChannel(ChannelTicker) && s.hasSymbol(k.Symbol) {
				s.push(ChannelTicker, k)
			}
		}
	}
}

func (h *Hub) relayOrders(ch <-chan any) {
	for msg := range ch {
		o, ok := msg.(db.Order)
		if !ok {
			continue
		}
		for _, s := range h.snapshot() {
			if s.UserID == o.UserID && s.hasChannel(ChannelOrders) {
				s.push(ChannelOrders, o)
			}
		}
	}
}

func (h *Hub) relayStats(ch <-chan any) {
	for msg := range ch {
		update, ok := msg.(stats.BotStatsUpdate)
		if !ok {
			continue
		}
		for _, s := range h.snapshot() {
			if s.UserID == update.UserID && s.hasChannel(ChannelBotStats) {
				s.push(ChannelBotStats, update)
			}
		}
	}
}

func (h *Hub) relayRisk(ch <-chan any) {
	for msg := range ch {
		alert, ok := msg.(db.RiskAlertRow)
		if !ok {
			continue
		}
		for _, s := range h.snapshot() {
			if s.UserID == alert.UserID && s.hasChannel(ChannelRiskAlert) {
				s.push(ChannelRiskAlert, alert)
			}
		}
	}
}

func (h *Hub) relayBotStatus(ch <-chan any) {
	for msg := range ch {
		payload, ok := msg.(map[string]any)
		if !ok {
			continue
		}
		userID, _ := payload["user_id"].(string)
		for _, s := range h.snapshot() {
			if s.UserID == userID {
				s.push("bot_status", payload)
			}
		}
	}
}

// Close tears down the hub's bus subscriptions.
func (h *Hub) Close() {
	h.unsubPrice()
	h.unsubOrder()
	h.unsubStats()
	h.unsubRisk()
	h.unsubBot()
}
