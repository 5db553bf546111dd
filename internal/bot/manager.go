package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"trading-core/internal/apperr"
	"trading-core/internal/events"
	"trading-core/internal/order"
	"trading-core/internal/strategy"
	"trading-core/pkg/db"
)

// Manager is a registry of running bot engines keyed by bot id, guarded by
// a single mutex — the same shape internal/gateway.Manager uses for its
// connection-id-keyed gateway cache. Exposes Start/Stop/StopAll/IsRunning/
// RunningIds.
type Manager struct {
	mu             sync.RWMutex
	engines        map[string]*Engine
	registry       *strategy.Registry
	database       *db.Database
	bus            *events.Bus
	queue          order.OrderQueue
	resolveGateway GatewayResolver
}

func NewManager(database *db.Database, bus *events.Bus, queue order.OrderQueue, registry *strategy.Registry) *Manager {
	if registry == nil {
		registry = strategy.NewRegistry()
	}
	return &Manager{
		engines:  make(map[string]*Engine),
		registry: registry,
		database: database,
		bus:      bus,
		queue:    queue,
	}
}

// SetGatewayResolver injects how running engines resolve the exchange
// gateway to fetch prices and (indirectly, via the order queue) submit
// orders through. Must be set before Start is called for it to take
// effect; engines started before this call keep whatever resolver was in
// place at the time.
func (m *Manager) SetGatewayResolver(resolver GatewayResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveGateway = resolver
}

// Start loads the bot row and its strategy definition, instantiates a fresh
// strategy instance, and spawns its engine goroutine.
//
// The only real "already running" rejection is the persisted bot status: a
// storage status of RUNNING blocks a fresh Start and leaves any live engine
// untouched. Once that check passes, an engine still present in the map for
// this id is treated as stale, not as a conflict: a prior Stop/crash can
// leave the map entry behind without the bot actually being live (e.g. a
// panic between delete and stop, or a second Start racing a Stop that hasn't
// pruned the entry yet), so it is best-effort stopped and evicted first.
//
// The strategy's parameters are the definition's parameters with the bot's
// strategy_settings laid over them key by key.
func (m *Manager) Start(ctx context.Context, botID string) error {
	b, err := m.database.GetBot(ctx, botID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "BOT_LOOKUP_FAILED", "failed to load bot", err)
	}
	if b == nil {
		return apperr.New(apperr.NotFound, "BOT_NOT_FOUND", fmt.Sprintf("bot %s not found", botID))
	}
	if b.Status == "RUNNING" {
		return apperr.InvalidState(fmt.Sprintf("cannot start bot %s from RUNNING", botID))
	}

	m.mu.Lock()
	if stale, ok := m.engines[botID]; ok {
		delete(m.engines, botID)
		m.mu.Unlock()
		stale.stop()
	} else {
		m.mu.Unlock()
	}

	def, err := m.database.GetStrategy(ctx, b.StrategyID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "STRATEGY_LOOKUP_FAILED", "failed to load strategy definition", err)
	}
	if def == nil {
		return apperr.New(apperr.NotFound, "STRATEGY_NOT_FOUND", fmt.Sprintf("strategy %s not found", b.StrategyID))
	}

	params := json.RawMessage(def.Parameters)
	if b.StrategySettings != "" && b.StrategySettings != "null" {
		merged := map[string]any{}
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal([]byte(def.Parameters), &merged); err != nil {
				return apperr.Wrap(apperr.Validation, "STRATEGY_INSTANTIATE_FAILED", "failed to instantiate strategy", err)
			}
		}
		if err := json.Unmarshal([]byte(b.StrategySettings), &merged); err != nil {
			return apperr.Wrap(apperr.Validation, "STRATEGY_SETTINGS_INVALID", "invalid bot strategy settings", err)
		}
		if raw, err := json.Marshal(merged); err == nil {
			params = raw
		}
	}
	strat, err := m.registry.Instantiate(def.Type, b.ID, b.Symbol, params)
	if err != nil {
		return apperr.Wrap(apperr.Validation, "STRATEGY_INSTANTIATE_FAILED", "failed to instantiate strategy", err)
	}

	m.mu.RLock()
	resolver := m.resolveGateway
	m.mu.RUnlock()

	eng := newEngine(context.Background(), *b, strat, m.database, m.bus, m.queue, resolver, func(reason string) {
		m.handleEngineFatal(botID, reason)
	})
	eng.restoreState()

	m.mu.Lock()
	if _, ok := m.engines[botID]; ok {
		// Lost a race against a concurrent Start: keep the other engine,
		// discard ours.
		m.mu.Unlock()
		eng.cancel()
		return apperr.InvalidState(fmt.Sprintf("cannot start bot %s from RUNNING", botID))
	}
	m.engines[botID] = eng
	m.mu.Unlock()

	go eng.run()

	if err := m.database.SetBotRunning(ctx, botID); err != nil {
		return apperr.Wrap(apperr.Internal, "BOT_STATUS_PERSIST_FAILED", "failed to persist RUNNING status", err)
	}

	m.publishStatus(botID, b.UserID, "RUNNING")
	return nil
}

// Stop cancels the bot's engine, waits for its grace period, persists its
// strategy state, and marks it PAUSED in storage. Stopping a bot that is
// not running returns an error rather than silently succeeding.
func (m *Manager) Stop(ctx context.Context, botID string) error {
	m.mu.Lock()
	eng, ok := m.engines[botID]
	if ok {
		delete(m.engines, botID)
	}
	m.mu.Unlock()

	if !ok {
		return apperr.ErrNotRunning
	}

	eng.stop()

	if err := m.database.SetBotPaused(ctx, botID); err != nil {
		return apperr.Wrap(apperr.Internal, "BOT_STATUS_PERSIST_FAILED", "failed to persist PAUSED status", err)
	}

	m.publishStatus(botID, eng.userID, "PAUSED")
	return nil
}

// StopAll stops every running bot, continuing past individual failures and
// returning the first error encountered (used on graceful shutdown).
func (m *Manager) StopAll(ctx context.Context) error {
	var firstErr error
	for _, id := range m.RunningIds() {
		if err := m.Stop(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsRunning reports whether a bot currently has a live engine.
func (m *Manager) IsRunning(botID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.engines[botID]
	return ok
}

// RunningIds returns the ids of every bot with a live engine, used by the
// reconciliation job to diff against storage-RUNNING bots on restart: a
// crash leaves storage RUNNING with no automatic resume, so only this
// process's own engines count as "running".
func (m *Manager) RunningIds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.engines))
	for id := range m.engines {
		ids = append(ids, id)
	}
	return ids
}

// MarkError records that a bot's engine exited abnormally without going
// through Stop (e.g. a gateway rejected every order). Callers outside this
// package — the reconciliation job, the executor's failure path — use this
// to flip status without tearing down a still-live engine.
func (m *Manager) MarkError(ctx context.Context, botID, reason string) error {
	if err := m.database.SetBotError(ctx, botID, reason); err != nil {
		return apperr.Wrap(apperr.Internal, "BOT_STATUS_PERSIST_FAILED", "failed to persist ERROR status", err)
	}
	m.publishStatus(botID, "", "ERROR")
	return nil
}

// handleEngineFatal is the engine's onFatal callback: it runs on the
// engine's own goroutine right before that goroutine exits, so it only
// needs to evict the map entry and persist ERROR — the engine has already
// cancelled itself.
func (m *Manager) handleEngineFatal(botID, reason string) {
	m.mu.Lock()
	delete(m.engines, botID)
	m.mu.Unlock()

	if err := m.MarkError(context.Background(), botID, reason); err != nil {
		log.Printf("bot %s: failed to persist ERROR after fatal tick: %v", botID, err)
	}
}

func (m *Manager) publishStatus(botID, userID, status string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.EventBotStatusChanged, map[string]any{
		"bot_id": botID,
		"user_id": userID,
		"status": status,
	})
}
