// Package refreshtokens keeps the per-user current refresh token used to
// revoke superseded or logged-out sessions.
package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tunekeeper/internal/common"
	"github.com/dmitrijs2005/tunekeeper/internal/dbx"
	"github.com/dmitrijs2005/tunekeeper/internal/server/models"
)

// PostgresRepository stores refresh tokens over dbx.DBTX (satisfied by *sql.DB
// or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Put upserts the user's current token.
func (r *PostgresRepository) Put(ctx context.Context, userID string, token string, expiresAt time.Time) error {
	query := `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at, created_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, userID, token, expiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*models.RefreshToken, error) {
	query := `
		SELECT token, expires_at
		FROM refresh_tokens
		WHERE user_id = $1
	`
	rt := &models.RefreshToken{UserID: userID}
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&rt.Token, &rt.Expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rt, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	query := `
		DELETE FROM refresh_tokens
		WHERE user_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
