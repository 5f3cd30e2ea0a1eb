package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wisefido-iotcore/internal/domain"

	"go.uber.org/zap"
)

// PostgresUsersRepository users table
type PostgresUsersRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresUsersRepository(db *sql.DB, logger *zap.Logger) *PostgresUsersRepository {
	return &PostgresUsersRepository{db: db, logger: logger}
}

const userColumns = `id, email, avatar_key, password_hash, created_at`

func scanUser(s rowScanner) (*domain.User, error) {
	var (
		u      domain.User
		avatar sql.NullString
	)
	if err := s.Scan(&u.ID, &u.Email, &avatar, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.AvatarKey = stringPtr(avatar)
	return &u, nil
}

func (r *PostgresUsersRepository) Create(ctx context.Context, email, passwordHash string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING `+userColumns,
		email, passwordHash,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

func (r *PostgresUsersRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 LIMIT 1`, email)
}

func (r *PostgresUsersRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 LIMIT 1`, id)
}

func (r *PostgresUsersRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

func (r *PostgresUsersRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresUsersRepository) UpdateAvatar(ctx context.Context, id string, avatarKey *string) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users SET avatar_key = $2 WHERE id = $1 RETURNING `+userColumns,
		id, nullString(avatarKey),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update avatar: %w", err)
	}
	return u, nil
}
