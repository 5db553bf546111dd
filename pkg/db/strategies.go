package db

import (
	"context"
	"database/sql"
	"time"
)

// StrategyDef is the persisted strategy *definition*: a named,
// parameterized recipe a Bot instantiates. It is distinct from Bot, which
// carries the running-instance state, exchange binding, and stats.
type StrategyDef struct {
	ID         string
	UserID     string
	Name       string
	Type       string
	Parameters string // JSON, opaque to this layer
	SourceCode sql.NullString
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateStrategy inserts a new strategy definition.
func (d *Database) CreateStrategy(ctx context.Context, s StrategyDef) error {
	isActive := 1
	if !s.IsActive {
		isActive = 0
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategies (id, user_id, name, type, params, parameters, source_code, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.UserID, s.Name, s.Type, s.Parameters, s.Parameters, s.SourceCode, isActive)
	return err
}

// GetStrategy fetches a strategy definition by id.
func (d *Database) GetStrategy(ctx context.Context, id string) (*StrategyDef, error) {
	var s StrategyDef
	var isActive int
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, COALESCE(user_id, ''), name, COALESCE(type, 'ma_cross'), COALESCE(parameters, '{}'),
		       source_code, COALESCE(is_active, 1), created_at, COALESCE(updated_at, created_at)
		FROM strategies WHERE id = ?
	`, id).Scan(&s.ID, &s.UserID, &s.Name, &s.Type, &s.Parameters, &s.SourceCode, &isActive, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.IsActive = isActive != 0
	return &s, nil
}

// ListStrategiesByUser returns every strategy definition owned by a user.
func (d *Database) ListStrategiesByUser(ctx context.Context, userID string) ([]StrategyDef, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(user_id, ''), name, COALESCE(type, 'ma_cross'), COALESCE(parameters, '{}'),
		       source_code, COALESCE(is_active, 1), created_at, COALESCE(updated_at, created_at)
		FROM strategies WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []StrategyDef
	for rows.Next() {
		var s StrategyDef
		var isActive int
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.Type, &s.Parameters, &s.SourceCode, &isActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.IsActive = isActive != 0
		res = append(res, s)
	}
	return res, rows.Err()
}
