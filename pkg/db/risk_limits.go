package db

import (
	"context"
	"database/sql"
	"time"
)

// RiskLimitRow persists a RiskLimit entity.
type RiskLimitRow struct {
	ID                 string
	UserID             string
	Kind               string // position_size, daily_loss, drawdown, leverage, exposure
	Symbol             sql.NullString
	ThresholdValue     float64
	WarningThreshold   float64
	CriticalThreshold  float64
	Enabled            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RiskAlertRow persists a produced Alert.
type RiskAlertRow struct {
	ID                  string
	UserID              string
	RiskLimitID         string
	Kind                string
	Symbol              sql.NullString
	Severity            string // WARNING, CRITICAL, BREACHED
	Message             string
	CurrentValue        float64
	LimitValue          float64
	ViolationPercentage float64
	CreatedAt           time.Time
}

// CreateRiskLimit inserts a new limit row.
func (d *Database) CreateRiskLimit(ctx context.Context, r RiskLimitRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_limits (id, user_id, kind, symbol, threshold_value, warning_threshold, critical_threshold, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, r.Kind, r.Symbol, r.ThresholdValue, r.WarningThreshold, r.CriticalThreshold, r.Enabled)
	return err
}

// ListRiskLimitsByUser returns every enabled limit for a user, global
// (symbol IS NULL) and symbol-scoped alike — symbol-scoped limits coexist
// with globals.
func (d *Database) ListRiskLimitsByUser(ctx context.Context, userID string) ([]RiskLimitRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, kind, symbol, threshold_value, warning_threshold, critical_threshold, enabled, created_at, updated_at
		FROM risk_limits WHERE user_id = ? AND enabled = 1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RiskLimitRow
	for rows.Next() {
		var r RiskLimitRow
		var enabled int
		if err := rows.Scan(&r.ID, &r.UserID, &r.Kind, &r.Symbol, &r.ThresholdValue, &r.WarningThreshold, &r.CriticalThreshold, &enabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		res = append(res, r)
	}
	return res, rows.Err()
}

// CreateRiskAlert records a produced alert.
func (d *Database) CreateRiskAlert(ctx context.Context, a RiskAlertRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_alerts (id, user_id, risk_limit_id, kind, symbol, severity, message, current_value, limit_value, violation_percentage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.RiskLimitID, a.Kind, a.Symbol, a.Severity, a.Message, a.CurrentValue, a.LimitValue, a.ViolationPercentage)
	return err
}

// LastAlertForLimit returns the most recent alert raised against a limit,
// used by the debounce window to collapse duplicates against the same
// limit.
func (d *Database) LastAlertForLimit(ctx context.Context, riskLimitID string) (*RiskAlertRow, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, risk_limit_id, kind, symbol, severity, message, current_value, limit_value, violation_percentage, created_at
		FROM risk_alerts WHERE risk_limit_id = ? ORDER BY created_at DESC LIMIT 1
	`, riskLimitID)
	var a RiskAlertRow
	err := row.Scan(&a.ID, &a.UserID, &a.RiskLimitID, &a.Kind, &a.Symbol, &a.Severity, &a.Message, &a.CurrentValue, &a.LimitValue, &a.ViolationPercentage, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAlertsByUser returns recent alerts for a user, newest first.
func (d *Database) ListAlertsByUser(ctx context.Context, userID string, limit int) ([]RiskAlertRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, risk_limit_id, kind, symbol, severity, message, current_value, limit_value, violation_percentage, created_at
		FROM risk_alerts WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RiskAlertRow
	for rows.Next() {
		var a RiskAlertRow
		if err := rows.Scan(&a.ID, &a.UserID, &a.RiskLimitID, &a.Kind, &a.Symbol, &a.Severity, &a.Message, &a.CurrentValue, &a.LimitValue, &a.ViolationPercentage, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
