package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wisefido-iotcore/internal/domain"

	"go.uber.org/zap"
)

// PostgresSessionsRepository auth_sessions table
type PostgresSessionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresSessionsRepository(db *sql.DB, logger *zap.Logger) *PostgresSessionsRepository {
	return &PostgresSessionsRepository{db: db, logger: logger}
}

func (r *PostgresSessionsRepository) Create(ctx context.Context, tokenHash []byte, userID string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`,
		tokenHash, userID, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *PostgresSessionsRepository) Lookup(ctx context.Context, tokenHash []byte) (*domain.SessionUser, error) {
	var u domain.SessionUser
	err := r.db.QueryRowContext(ctx, `
		SELECT u.id, u.email
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
		  AND s.expires_at > now()
		LIMIT 1`,
		tokenHash,
	).Scan(&u.ID, &u.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lookup session: %w", err)
	}
	return &u, nil
}

func (r *PostgresSessionsRepository) Touch(ctx context.Context, tokenHash []byte) error {
	_, err := r.db.ExecContext(ctx, `UPDATE auth_sessions SET last_used_at = now() WHERE token_hash = $1`, tokenHash)
	return err
}

func (r *PostgresSessionsRepository) Delete(ctx context.Context, tokenHash []byte) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *PostgresSessionsRepository) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}
