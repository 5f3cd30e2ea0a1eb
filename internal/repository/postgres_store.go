package repository

import (
	"database/sql"

	"go.uber.org/zap"
)

// NewPostgresStore wires every Postgres repository over one pool
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		Devices:       NewPostgresDevicesRepository(db, logger),
		Components:    NewPostgresComponentsRepository(db, logger),
		Notifications: NewPostgresNotificationsRepository(db, logger),
		Sessions:      NewPostgresSessionsRepository(db, logger),
		Users:         NewPostgresUsersRepository(db, logger),
	}
}
