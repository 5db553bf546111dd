package db

import (
	"context"
	"database/sql"
	"time"
)

// RefreshTokenRow tracks an issued refresh token by its jti so it can be
// revoked (logout, rotation) without needing to validate a signature against
// a revocation list on every request.
type RefreshTokenRow struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	RevokedAt sql.NullTime
	CreatedAt time.Time
}

// CreateRefreshToken records a newly issued refresh token.
func (d *Database) CreateRefreshToken(ctx context.Context, id, userID string, expiresAt time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, expires_at) VALUES (?, ?, ?)
	`, id, userID, expiresAt)
	return err
}

// GetRefreshToken fetches a refresh token row by id (jti).
func (d *Database) GetRefreshToken(ctx context.Context, id string) (*RefreshTokenRow, error) {
	var r RefreshTokenRow
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, expires_at, revoked_at, created_at FROM refresh_tokens WHERE id = ?
	`, id).Scan(&r.ID, &r.UserID, &r.ExpiresAt, &r.RevokedAt, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RevokeRefreshToken marks a refresh token as used/invalidated. Called on
// rotation (old token revoked as soon as a new pair is issued) and logout.
func (d *Database) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = CURRENT_TIMESTAMP WHERE id = ? AND revoked_at IS NULL
	`, id)
	return err
}
