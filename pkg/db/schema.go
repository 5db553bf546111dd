package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS strategies (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    params TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    strategy_instance_id TEXT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    price REAL NOT NULL,
    qty REAL NOT NULL,
    filled_qty REAL DEFAULT 0,
    status TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    price REAL NOT NULL,
    qty REAL NOT NULL,
    fee REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS positions (
    symbol TEXT PRIMARY KEY,
    qty REAL NOT NULL,
    avg_price REAL NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS connections (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    exchange_type TEXT NOT NULL,
    name TEXT NOT NULL,
    api_key TEXT NOT NULL,
    api_secret TEXT NOT NULL,
    is_active BOOLEAN DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS risk_configs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    max_position_size REAL,
    max_total_exposure REAL,
    default_leverage REAL,
    default_stop_loss REAL,
    default_take_profit REAL,
    use_trailing_stop INTEGER,
    trailing_percent REAL,
    max_daily_loss REAL,
    max_daily_trades INTEGER,
    min_order_size REAL,
    max_order_size REAL,
    max_slippage REAL,
    use_daily_trade_limit INTEGER DEFAULT 1,
    use_daily_loss_limit INTEGER DEFAULT 1,
    use_order_size_limits INTEGER DEFAULT 1,
    use_position_size_limit INTEGER DEFAULT 1,
    is_active INTEGER DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS risk_metrics (
    date TEXT PRIMARY KEY,
    daily_pnl REAL DEFAULT 0,
    daily_trades INTEGER DEFAULT 0,
    daily_wins INTEGER DEFAULT 0,
    daily_losses REAL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS strategy_instances (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    strategy_type TEXT NOT NULL,
    symbol TEXT NOT NULL,
    interval TEXT NOT NULL,
    parameters TEXT NOT NULL,
    user_id TEXT,
    connection_id TEXT,
    is_active BOOLEAN DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS strategy_states (
    strategy_instance_id TEXT PRIMARY KEY,
    state_data TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(strategy_instance_id) REFERENCES strategy_instances(id)
);

CREATE TABLE IF NOT EXISTS strategy_positions (
    strategy_instance_id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    qty REAL DEFAULT 0,
    avg_price REAL DEFAULT 0,
    realized_pnl REAL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(strategy_instance_id) REFERENCES strategy_instances(id)
);

CREATE TABLE IF NOT EXISTS bots (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    strategy_id TEXT NOT NULL,
    connection_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    base_qty REAL DEFAULT 0,
    quote_qty REAL DEFAULT 0,
    take_profit_pct REAL DEFAULT 0,
    stop_loss_pct REAL DEFAULT 0,
    strategy_settings TEXT,
    check_interval_seconds INTEGER DEFAULT 10,
    status TEXT NOT NULL DEFAULT 'PAUSED',
    risk_level TEXT DEFAULT 'NORMAL',
    total_trades INTEGER DEFAULT 0,
    winning_trades INTEGER DEFAULT 0,
    losing_trades INTEGER DEFAULT 0,
    total_pnl REAL DEFAULT 0,
    current_win_streak INTEGER DEFAULT 0,
    current_loss_streak INTEGER DEFAULT 0,
    max_win_streak INTEGER DEFAULT 0,
    max_loss_streak INTEGER DEFAULT 0,
    last_error TEXT,
    active_order_ids TEXT,
    started_at DATETIME,
    stopped_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id),
    FOREIGN KEY(strategy_id) REFERENCES strategies(id),
    FOREIGN KEY(connection_id) REFERENCES connections(id)
);

CREATE TABLE IF NOT EXISTS risk_limits (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    symbol TEXT,
    threshold_value REAL NOT NULL,
    warning_threshold REAL DEFAULT 80,
    critical_threshold REAL DEFAULT 95,
    enabled INTEGER DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS risk_alerts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    risk_limit_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    symbol TEXT,
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    current_value REAL NOT NULL,
    limit_value REAL NOT NULL,
    violation_percentage REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id),
    FOREIGN KEY(risk_limit_id) REFERENCES risk_limits(id)
);

CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    priority TEXT NOT NULL DEFAULT 'normal',
    payload TEXT DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'queued',
    retry_count INTEGER DEFAULT 0,
    max_retries INTEGER DEFAULT 0,
    timeout_seconds INTEGER DEFAULT 30,
    scheduled_at DATETIME,
    started_at DATETIME,
    completed_at DATETIME,
    error TEXT,
    result TEXT,
    expires_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS dead_letter_jobs (
    id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL,
    name TEXT NOT NULL,
    payload TEXT DEFAULT '{}',
    error TEXT,
    retry_count INTEGER DEFAULT 0,
    failed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scheduled_tasks (
    name TEXT PRIMARY KEY,
    handler_job_name TEXT NOT NULL,
    schedule_kind TEXT NOT NULL,
    schedule_expr TEXT NOT NULL,
    priority TEXT NOT NULL DEFAULT 'normal',
    enabled INTEGER DEFAULT 1,
    last_run DATETIME,
    next_run DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS strategy_risk_configs (
    strategy_instance_id TEXT PRIMARY KEY,
    -- Position & Order limits
    max_position_size REAL,
    min_order_size REAL,
    max_order_size REAL,
    -- Stop Loss / Take Profit
    stop_loss REAL,
    take_profit REAL,
    use_trailing_stop INTEGER DEFAULT 0,
    trailing_percent REAL DEFAULT 0.015,
    -- Enable switch
    enable_risk INTEGER DEFAULT 1,
    -- Feature toggles
    use_position_size_limit INTEGER DEFAULT 1,
    use_order_size_limits INTEGER DEFAULT 1,
    -- Metadata
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(strategy_instance_id) REFERENCES strategy_instances(id)
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    expires_at DATETIME NOT NULL,
    revoked_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "orders", "filled_qty", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "orders", "strategy_instance_id", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "side", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	// Risk config feature toggles
	if err := ensureColumn(d.DB, "risk_configs", "use_daily_trade_limit", "INTEGER DEFAULT 1"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "risk_configs", "use_daily_loss_limit", "INTEGER DEFAULT 1"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "risk_configs", "use_order_size_limits", "INTEGER DEFAULT 1"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "risk_configs", "use_position_size_limit", "INTEGER DEFAULT 1"); err != nil {
		return err
	}

	// Advanced Strategy Features
	if err := ensureColumn(d.DB, "strategy_instances", "status", "TEXT DEFAULT 'ACTIVE'"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "strategy_instances", "user_id", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "strategy_instances", "connection_id", "TEXT"); err != nil {
		return err
	}

	// Create strategy_positions table if not exists
	if _, err := d.DB.Exec(`
		CREATE TABLE IF NOT EXISTS strategy_positions (
			strategy_instance_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			qty REAL DEFAULT 0,
			avg_price REAL DEFAULT 0,
			realized_pnl REAL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(strategy_instance_id) REFERENCES strategy_instances(id)
		);
	`); err != nil {
		return fmt.Errorf("create strategy_positions table: %w", err)
	}

	// Phase 2 Features: Maker Only and Profit Target
	if err := ensureColumn(d.DB, "strategy_instances", "time_in_force", "TEXT DEFAULT 'GTC'"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "strategy_instances", "profit_target", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "strategy_instances", "profit_target_type", "TEXT DEFAULT 'USDT'"); err != nil {
		return err
	}

	// Order state machine columns: the legacy orders table predates the
	// full aggregate; these are additive and idempotent.
	orderColumns := []struct{ name, def string }{
		{"user_id", "TEXT"},
		{"bot_id", "TEXT"},
		{"connection_id", "TEXT"},
		{"type", "TEXT DEFAULT 'MARKET'"},
		{"stop_price", "REAL DEFAULT 0"},
		{"time_in_force", "TEXT DEFAULT 'GTC'"},
		{"iceberg_qty", "REAL DEFAULT 0"},
		{"reduce_only", "INTEGER DEFAULT 0"},
		{"close_position", "INTEGER DEFAULT 0"},
		{"position_side", "TEXT DEFAULT 'BOTH'"},
		{"market", "TEXT DEFAULT 'SPOT'"},
		{"leverage", "INTEGER DEFAULT 1"},
		{"margin_mode", "TEXT DEFAULT 'CROSSED'"},
		{"working_type", "TEXT"},
		{"price_protect", "INTEGER DEFAULT 0"},
		{"activation_price", "REAL DEFAULT 0"},
		{"callback_rate", "REAL DEFAULT 0"},
		{"client_id", "TEXT"},
		{"exchange_order_id", "TEXT"},
		{"replaces_order_id", "TEXT"},
		{"error_message", "TEXT"},
		{"executed_quote", "REAL DEFAULT 0"},
		{"average_price", "REAL DEFAULT 0"},
		{"commission", "REAL DEFAULT 0"},
		{"commission_asset", "TEXT"},
		{"submitted_at", "DATETIME"},
		{"filled_at", "DATETIME"},
		{"cancelled_at", "DATETIME"},
	}
	for _, c := range orderColumns {
		if err := ensureColumn(d.DB, "orders", c.name, c.def); err != nil {
			return err
		}
	}

	// Trade columns: exchange_trade_id backs the idempotence invariant for
	// the stats projector.
	tradeColumns := []struct{ name, def string }{
		{"bot_id", "TEXT"},
		{"user_id", "TEXT"},
		{"commission_asset", "TEXT"},
		{"realized_pnl", "REAL DEFAULT 0"},
		{"exchange_trade_id", "TEXT"},
		{"executed_at", "DATETIME"},
	}
	for _, c := range tradeColumns {
		if err := ensureColumn(d.DB, "trades", c.name, c.def); err != nil {
			return err
		}
	}
	if _, err := d.DB.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_exchange_trade_id ON trades(exchange_trade_id) WHERE exchange_trade_id IS NOT NULL AND exchange_trade_id != ''`); err != nil {
		return fmt.Errorf("create trades exchange_trade_id index: %w", err)
	}

	// The original positions table keys on symbol alone, which can't hold
	// one open position per bot per symbol once bots replace the single
	// shared strategy loop. Rebuild it around a synthetic id before the
	// column-additive migrations below run.
	if err := rebuildPositionsTable(d.DB); err != nil {
		return err
	}

	// Position columns: per-bot futures position detail.
	positionColumns := []struct{ name, def string }{
		{"user_id", "TEXT"},
		{"bot_id", "TEXT"},
		{"side", "TEXT DEFAULT 'LONG'"},
		{"leverage", "INTEGER DEFAULT 1"},
		{"margin_mode", "TEXT DEFAULT 'CROSSED'"},
		{"margin_locked", "REAL DEFAULT 0"},
		{"liquidation_price", "REAL DEFAULT 0"},
		{"stop_loss", "REAL DEFAULT 0"},
		{"take_profit", "REAL DEFAULT 0"},
		{"status", "TEXT DEFAULT 'OPEN'"},
		{"realized_pnl", "REAL DEFAULT 0"},
		{"unrealized_pnl", "REAL DEFAULT 0"},
		{"opened_at", "DATETIME"},
		{"closed_at", "DATETIME"},
	}
	for _, c := range positionColumns {
		if err := ensureColumn(d.DB, "positions", c.name, c.def); err != nil {
			return err
		}
	}

	// Connection columns: permission flags + testnet credential pair.
	connColumns := []struct{ name, def string }{
		{"is_testnet", "INTEGER DEFAULT 0"},
		{"testnet_api_key", "TEXT"},
		{"testnet_api_secret", "TEXT"},
		{"perm_spot", "INTEGER DEFAULT 1"},
		{"perm_futures", "INTEGER DEFAULT 0"},
		{"perm_margin", "INTEGER DEFAULT 0"},
		{"perm_read_only", "INTEGER DEFAULT 0"},
		{"perm_withdraw", "INTEGER DEFAULT 0"},
		{"status", "TEXT DEFAULT 'disconnected'"},
		{"last_used_at", "DATETIME"},
	}
	for _, c := range connColumns {
		if err := ensureColumn(d.DB, "connections", c.name, c.def); err != nil {
			return err
		}
	}

	// Strategy definition columns: the original `strategies` table only
	// ever carried (id, name, params); a Bot now references it as its
	// definition while `bots` carries the running-instance state.
	strategyColumns := []struct{ name, def string }{
		{"user_id", "TEXT"},
		{"type", "TEXT DEFAULT 'ma_cross'"},
		{"parameters", "TEXT DEFAULT '{}'"},
		{"source_code", "TEXT"},
		{"is_active", "INTEGER DEFAULT 1"},
		{"updated_at", "DATETIME DEFAULT CURRENT_TIMESTAMP"},
	}
	for _, c := range strategyColumns {
		if err := ensureColumn(d.DB, "strategies", c.name, c.def); err != nil {
			return err
		}
	}

	return nil
}

// rebuildPositionsTable replaces a symbol-primary-keyed positions table with
// one keyed on a synthetic id, preserving existing rows. No-op once the
// table already has an id column.
func rebuildPositionsTable(db *sql.DB) error {
	hasID, err := columnExists(db, "positions", "id")
	if err != nil {
		return err
	}
	if hasID {
		return nil
	}

	stmts := []string{
		`ALTER TABLE positions RENAME TO positions_legacy`,
		`CREATE TABLE positions (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			qty REAL NOT NULL,
			avg_price REAL NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`INSERT INTO positions (id, symbol, qty, avg_price, updated_at)
			SELECT symbol, symbol, qty, avg_price, updated_at FROM positions_legacy`,
		`DROP TABLE positions_legacy`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("rebuild positions table: %w", err)
		}
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
