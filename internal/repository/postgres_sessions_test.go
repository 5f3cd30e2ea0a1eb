package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSessionsLookup(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresSessionsRepository(db, zap.NewNop())
	hash := []byte("hash")

	mock.ExpectQuery(`s.expires_at > now\(\)`).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).AddRow("u1", "a@b.c"))
	mock.ExpectQuery(`s.expires_at > now\(\)`).
		WithArgs(hash).
		WillReturnError(sql.ErrNoRows)

	u, err := repo.Lookup(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "a@b.c", u.Email)

	_, err = repo.Lookup(context.Background(), hash)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionsDeleteByUser(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresSessionsRepository(db, zap.NewNop())

	mock.ExpectExec(`DELETE FROM auth_sessions WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.DeleteByUser(context.Background(), "u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUsersCreate_DuplicateEmail(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresUsersRepository(db, zap.NewNop())

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("a@b.c", "scrypt$x").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	_, err := repo.Create(context.Background(), "a@b.c", "scrypt$x")
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}
