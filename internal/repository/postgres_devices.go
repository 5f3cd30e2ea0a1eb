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

// PostgresDevicesRepository devices table
type PostgresDevicesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresDevicesRepository(db *sql.DB, logger *zap.Logger) *PostgresDevicesRepository {
	return &PostgresDevicesRepository{db: db, logger: logger}
}

const deviceColumns = `
	id, device_uid, COALESCE(owner_user_id::text, ''), name, description, status,
	is_online, last_seen_at, claimed_at, created_at,
	claim_token_hash, claim_expires_at, device_secret_hash, secret_rotated_at`

func scanDevice(s rowScanner) (*domain.Device, error) {
	var (
		d                           domain.Device
		name, description           sql.NullString
		lastSeen, claimedAt         sql.NullTime
		claimExpires, secretRotated sql.NullTime
		claimHash, secretHash       []byte
	)
	err := s.Scan(
		&d.ID, &d.DeviceUID, &d.OwnerUserID, &name, &description, &d.Status,
		&d.IsOnline, &lastSeen, &claimedAt, &d.CreatedAt,
		&claimHash, &claimExpires, &secretHash, &secretRotated,
	)
	if err != nil {
		return nil, err
	}
	d.Name = stringPtr(name)
	d.Description = stringPtr(description)
	d.LastSeenAt = timePtr(lastSeen)
	d.ClaimedAt = timePtr(claimedAt)
	d.ClaimTokenHash = claimHash
	d.ClaimExpiresAt = timePtr(claimExpires)
	d.DeviceSecretHash = secretHash
	d.SecretRotatedAt = timePtr(secretRotated)
	return &d, nil
}

func (r *PostgresDevicesRepository) GetByUID(ctx context.Context, deviceUID string) (*domain.Device, error) {
	query := `SELECT` + deviceColumns + ` FROM devices WHERE device_uid = $1 LIMIT 1`
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceUID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return d, nil
}

func (r *PostgresDevicesRepository) GetOwned(ctx context.Context, deviceUID, ownerUserID string) (*domain.Device, error) {
	query := `SELECT` + deviceColumns + ` FROM devices WHERE device_uid = $1 AND owner_user_id = $2 LIMIT 1`
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceUID, ownerUserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return d, nil
}

func (r *PostgresDevicesRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]domain.Device, error) {
	query := `SELECT` + deviceColumns + `
		FROM devices
		WHERE owner_user_id = $1
		ORDER BY last_seen_at DESC NULLS LAST, device_uid ASC`
	rows, err := r.db.QueryContext(ctx, query, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := []domain.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

func (r *PostgresDevicesRepository) LookupRef(ctx context.Context, deviceUID string) (*domain.DeviceRef, error) {
	var ref domain.DeviceRef
	err := r.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(owner_user_id::text, '') FROM devices WHERE device_uid = $1`,
		deviceUID,
	).Scan(&ref.ID, &ref.OwnerUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lookup device: %w", err)
	}
	return &ref, nil
}

func (r *PostgresDevicesRepository) OwnsDevice(ctx context.Context, ownerUserID, deviceUID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM devices WHERE device_uid = $1 AND owner_user_id = $2)`,
		deviceUID, ownerUserID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check device owner: %w", err)
	}
	return ok, nil
}

func (r *PostgresDevicesRepository) Create(ctx context.Context, d *domain.Device) error {
	query := `
		INSERT INTO devices (device_uid, owner_user_id, name, description, status, claim_token_hash, claim_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		d.DeviceUID, d.OwnerUserID, nullString(d.Name), nullString(d.Description),
		d.Status, d.ClaimTokenHash, d.ClaimExpiresAt,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert device: %w", err)
	}
	return nil
}

func (r *PostgresDevicesRepository) UpdateLabels(ctx context.Context, deviceUID, ownerUserID string, name, description *string) (*domain.Device, error) {
	query := `
		UPDATE devices
		SET name = COALESCE($3, name),
		    description = COALESCE($4, description)
		WHERE device_uid = $1 AND owner_user_id = $2
		RETURNING` + deviceColumns
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceUID, ownerUserID, nullString(name), nullString(description)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update device: %w", err)
	}
	return d, nil
}

func (r *PostgresDevicesRepository) Delete(ctx context.Context, deviceUID, ownerUserID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM devices WHERE device_uid = $1 AND owner_user_id = $2`,
		deviceUID, ownerUserID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
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

func (r *PostgresDevicesRepository) SetClaimToken(ctx context.Context, deviceID string, hash []byte, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET claim_token_hash = $2, claim_expires_at = $3
		WHERE id = $1 AND status = 'unclaimed'`,
		deviceID, hash, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set claim token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresDevicesRepository) Activate(ctx context.Context, deviceID string, claimHash, secretHash []byte) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET status = 'active',
		    claimed_at = now(),
		    last_seen_at = now(),
		    device_secret_hash = $3,
		    secret_rotated_at = now(),
		    claim_token_hash = NULL,
		    claim_expires_at = NULL
		WHERE id = $1
		  AND status = 'unclaimed'
		  AND claim_token_hash = $2
		  AND claim_expires_at > now()`,
		deviceID, claimHash, secretHash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to activate device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresDevicesRepository) MarkSeen(ctx context.Context, deviceID string) (SeenResult, error) {
	var (
		wasOnline bool
		res       SeenResult
	)
	err := r.db.QueryRowContext(ctx, `
		UPDATE devices d
		SET is_online = true, last_seen_at = now()
		FROM (SELECT id, is_online FROM devices WHERE id = $1 FOR UPDATE) prev
		WHERE d.id = prev.id
		RETURNING COALESCE(prev.is_online, false), d.last_seen_at`,
		deviceID,
	).Scan(&wasOnline, &res.LastSeenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return res, ErrNotFound
		}
		return res, fmt.Errorf("failed to mark device seen: %w", err)
	}
	res.Transitioned = !wasOnline
	return res, nil
}

func scanOfflineDevice(s rowScanner) (*OfflineDevice, error) {
	var (
		od       OfflineDevice
		name     sql.NullString
		lastSeen sql.NullTime
	)
	if err := s.Scan(&od.DeviceUID, &name, &od.OwnerUserID, &lastSeen); err != nil {
		return nil, err
	}
	od.Name = stringPtr(name)
	od.LastSeenAt = timePtr(lastSeen)
	return &od, nil
}

func (r *PostgresDevicesRepository) MarkOffline(ctx context.Context, deviceID string) (*OfflineDevice, error) {
	od, err := scanOfflineDevice(r.db.QueryRowContext(ctx, `
		UPDATE devices
		SET is_online = false
		WHERE id = $1 AND is_online IS DISTINCT FROM false
		RETURNING device_uid, name, COALESCE(owner_user_id::text, ''), last_seen_at`,
		deviceID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to mark device offline: %w", err)
	}
	return od, nil
}

func (r *PostgresDevicesRepository) SweepOffline(ctx context.Context, after time.Duration) ([]OfflineDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE devices
		SET is_online = false
		WHERE is_online = true
		  AND last_seen_at < now() - ($1 * interval '1 second')
		RETURNING device_uid, name, COALESCE(owner_user_id::text, ''), last_seen_at`,
		seconds(after),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep offline devices: %w", err)
	}
	defer rows.Close()

	out := []OfflineDevice{}
	for rows.Next() {
		od, err := scanOfflineDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offline device: %w", err)
		}
		out = append(out, *od)
	}
	return out, rows.Err()
}
