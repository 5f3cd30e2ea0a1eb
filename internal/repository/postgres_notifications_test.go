package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"wisefido-iotcore/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var notificationRowColumns = []string{"id", "owner_user_id", "device_uid", "title", "body", "type", "read_at", "created_at"}

func TestNotificationsInsertDeduped(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresNotificationsRepository(db, zap.NewNop())
	uid := "dev_a"
	n := domain.NewNotification{OwnerUserID: "u1", DeviceUID: &uid, Title: "Device offline", Body: "Device dev_a (dev_a) is offline."}
	now := time.Now()

	mock.ExpectQuery(`WHERE NOT EXISTS`).
		WithArgs("u1", "dev_a", n.Title, n.Body, "system", float64(60)).
		WillReturnRows(sqlmock.NewRows(notificationRowColumns).
			AddRow(int64(7), "u1", "dev_a", n.Title, n.Body, "system", nil, now))
	mock.ExpectQuery(`WHERE NOT EXISTS`).
		WithArgs("u1", "dev_a", n.Title, n.Body, "system", float64(60)).
		WillReturnError(sql.ErrNoRows)

	out, err := repo.InsertDeduped(context.Background(), n, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, int64(7), out.ID)
	assert.Nil(t, out.ReadAt)

	out, err = repo.InsertDeduped(context.Background(), n, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationsList_Filters(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresNotificationsRepository(db, zap.NewNop())

	mock.ExpectQuery(`WHERE owner_user_id = \$1 AND read_at IS NULL AND id < \$2 ORDER BY id DESC LIMIT \$3`).
		WithArgs("u1", int64(10), 5).
		WillReturnRows(sqlmock.NewRows(notificationRowColumns).
			AddRow(int64(9), "u1", nil, "t", "b", "system", nil, time.Now()))

	out, err := repo.List(context.Background(), "u1", ListNotificationsQuery{Limit: 5, BeforeID: 10, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].DeviceUID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationsMarkRead_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresNotificationsRepository(db, zap.NewNop())

	mock.ExpectQuery(`UPDATE notifications`).
		WithArgs(int64(3), "u1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.MarkRead(context.Background(), 3, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
