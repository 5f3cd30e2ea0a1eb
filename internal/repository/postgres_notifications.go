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

// PostgresNotificationsRepository notifications table
type PostgresNotificationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresNotificationsRepository(db *sql.DB, logger *zap.Logger) *PostgresNotificationsRepository {
	return &PostgresNotificationsRepository{db: db, logger: logger}
}

const notificationColumns = `id, owner_user_id::text, device_uid, title, body, type, read_at, created_at`

func scanNotification(s rowScanner) (*domain.Notification, error) {
	var (
		n         domain.Notification
		deviceUID sql.NullString
		readAt    sql.NullTime
	)
	if err := s.Scan(&n.ID, &n.OwnerUserID, &deviceUID, &n.Title, &n.Body, &n.Type, &readAt, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.DeviceUID = stringPtr(deviceUID)
	n.ReadAt = timePtr(readAt)
	return &n, nil
}

func notificationType(n domain.NewNotification) string {
	if n.Type == "" {
		return domain.NotificationTypeSystem
	}
	return n.Type
}

func (r *PostgresNotificationsRepository) Insert(ctx context.Context, n domain.NewNotification) (*domain.Notification, error) {
	out, err := scanNotification(r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (owner_user_id, device_uid, title, body, type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+notificationColumns,
		n.OwnerUserID, nullString(n.DeviceUID), n.Title, n.Body, notificationType(n),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}
	return out, nil
}

// InsertDeduped inserts unless a notification with the same owner, device,
// title and type was created within window. The check and the insert are one statement.
func (r *PostgresNotificationsRepository) InsertDeduped(ctx context.Context, n domain.NewNotification, window time.Duration) (*domain.Notification, error) {
	out, err := scanNotification(r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (owner_user_id, device_uid, title, body, type)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1
			FROM notifications
			WHERE owner_user_id = $1
			  AND device_uid IS NOT DISTINCT FROM $2
			  AND title = $3
			  AND type = $5
			  AND created_at > now() - ($6 * interval '1 second')
		)
		RETURNING `+notificationColumns,
		n.OwnerUserID, nullString(n.DeviceUID), n.Title, n.Body, notificationType(n), seconds(window),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}
	return out, nil
}

func (r *PostgresNotificationsRepository) List(ctx context.Context, ownerUserID string, q ListNotificationsQuery) ([]domain.Notification, error) {
	args := []any{ownerUserID}
	where := "WHERE owner_user_id = $1"
	if q.UnreadOnly {
		where += " AND read_at IS NULL"
	}
	if q.BeforeID > 0 {
		args = append(args, q.BeforeID)
		where += fmt.Sprintf(" AND id < $%d", len(args))
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`SELECT %s FROM notifications %s ORDER BY id DESC LIMIT $%d`,
		notificationColumns, where, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := []domain.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (r *PostgresNotificationsRepository) MarkRead(ctx context.Context, id int64, ownerUserID string) (*domain.Notification, error) {
	n, err := scanNotification(r.db.QueryRowContext(ctx, `
		UPDATE notifications
		SET read_at = COALESCE(read_at, now())
		WHERE id = $1 AND owner_user_id = $2
		RETURNING `+notificationColumns,
		id, ownerUserID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return n, nil
}

func (r *PostgresNotificationsRepository) MarkAllRead(ctx context.Context, ownerUserID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = now() WHERE owner_user_id = $1 AND read_at IS NULL`,
		ownerUserID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}
