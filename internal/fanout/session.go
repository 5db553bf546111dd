// Package fanout gives each connected client session its own outbound
// queue, subscribed to a user-scoped slice of the shared event bus plus
// ad-hoc market channels, generalizing a single price-tick-only websocket
// handler into full per-session pub/sub.
package fanout

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"trading-core/internal/events"
)

// outboundBuffer bounds each session's queue. Producers never block on a
// slow consumer: a full queue drops the event rather than blocking the
// publisher.
const outboundBuffer = 256

// Channel names recognised in subscribe/unsubscribe messages.
const (
	ChannelOrders    = "orders"
	ChannelBotStats  = "bot_stats"
	ChannelRiskAlert = "risk_alerts"
	ChannelTicker    = "ticker"
	ChannelTrades    = "trades"
	ChannelOrderbook = "orderbook"
)

// ClientMessage is an inbound control frame from a session.
type ClientMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
	Symbols  []string `json:"symbols,omitempty"`
}

// OutboundMessage is what a session actually receives over the wire.
type OutboundMessage struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// Session is one long-lived client connection's fan-out state: the set of
// channels/symbols it is subscribed to, and its outbound queue.
type Session struct {
	UserID string

	mu       sync.RWMutex
	channels map[string]bool
	symbols  map[string]bool

	out     chan OutboundMessage
	dropped atomic.Uint64

	bus *events.Bus
}

// NewSession creates a session bound to a user, with its own outbound
// queue. Call Close when the connection ends.
func NewSession(userID string, bus *events.Bus) *Session {
	return &Session{
		UserID:   userID,
		channels: make(map[string]bool),
		symbols:  make(map[string]bool),
		out:      make(chan OutboundMessage, outboundBuffer),
		bus:      bus,
	}
}

// Outbound returns the channel a connection's write loop should drain.
func (s *Session) Outbound() <-chan OutboundMessage {
	return s.out
}

// DroppedCount reports how many events this session has lost to a full
// queue.
func (s *Session) DroppedCount() uint64 {
	return s.dropped.Load()
}

// push attempts a non-blocking send; on a full queue it increments the
// dropped counter instead of blocking the bus's publish goroutine.
func (s *Session) push(channel string, payload any) {
	select {
	case s.out <- OutboundMessage{Channel: channel, Payload: payload}:
	default:
		s.dropped.Add(1)
	}
}

// Handle applies an inbound control message: subscribe, unsubscribe,
// subscribe_symbol, subscribe_ticker|trades|orderbook, or ping. Returns an
// immediate reply payload for ping, or nil otherwise.
func (s *Session) Handle(raw []byte) ([]byte, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}

	switch msg.Type {
	case "ping":
		return json.Marshal(map[string]any{"type": "pong", "server_time": time.Now().UnixMilli()})
	case "subscribe":
		s.addChannels(msg.Channels)
	case "unsubscribe":
		s.removeChannels(msg.Channels)
	case "subscribe_symbol":
		s.addSymbols(msg.Symbols)
	case "subscribe_ticker":
		s.addChannels([]string{ChannelTicker})
		s.addSymbols(msg.Symbols)
	case "subscribe_trades":
		s.addChannels([]string{ChannelTrades})
		s.addSymbols(msg.Symbols)
	case "subscribe_orderbook":
		s.addChannels([]string{ChannelOrderbook})
		s.addSymbols(msg.Symbols)
	}
	return nil, nil
}

func (s *Session) addChannels(chans []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chans {
		s.channels[c] = true
	}
}

func (s *Session) removeChannels(chans []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chans {
		delete(s.channels, c)
	}
}

func (s *Session) addSymbols(symbols []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		s.symbols[sym] = true
	}
}

func (s *Session) hasChannel(c string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[c]
}

func (s *Session) hasSymbol(sym string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.symbols) == 0 {
		return true // no symbol filter registered yet: accept all
	}
	return s.symbols[sym]
}

// Close tears down this session's outbound queue. The Hub, not the
// session, owns the underlying bus subscriptions. Safe to call once.
func (s *Session) Close() {
	close(s.out)
}
