package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-iotcore/internal/domain"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresComponentsRepository components + component_latest tables
type PostgresComponentsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresComponentsRepository(db *sql.DB, logger *zap.Logger) *PostgresComponentsRepository {
	return &PostgresComponentsRepository{db: db, logger: logger}
}

const componentColumns = `
	c.id, c.device_id, c.component_key, c.kind, c.capabilities, c.meta,
	c.is_online, c.last_seen_at, c.created_at`

func scanComponent(s rowScanner, extra ...any) (*domain.Component, error) {
	var (
		c          domain.Component
		caps, meta []byte
		lastSeen   sql.NullTime
	)
	dest := []any{
		&c.ID, &c.DeviceID, &c.ComponentKey, &c.Kind, &caps, &meta,
		&c.IsOnline, &lastSeen, &c.CreatedAt,
	}
	dest = append(dest, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	c.Capabilities = rawOrEmpty(caps)
	c.Meta = decodeMeta(meta)
	c.LastSeenAt = timePtr(lastSeen)
	return &c, nil
}

// UpsertManifest replaces kind, capabilities and meta from the manifest.
// The stored hidden / hidden_reason pair survives the replace; it is only
// changed by HideMissing / UnhideManifest.
func (r *PostgresComponentsRepository) UpsertManifest(ctx context.Context, deviceID string, mc domain.ManifestComponent) error {
	meta, err := json.Marshal(mc.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode meta: %w", err)
	}
	caps := mc.Capabilities
	if len(caps) == 0 {
		caps = json.RawMessage(`{}`)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO components (device_id, component_key, kind, capabilities, meta)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb)
		ON CONFLICT (device_id, component_key)
		DO UPDATE SET
			kind = excluded.kind,
			capabilities = excluded.capabilities,
			meta = excluded.meta || jsonb_strip_nulls(jsonb_build_object(
				'hidden', components.meta->'hidden',
				'hidden_reason', components.meta->'hidden_reason'
			))`,
		deviceID, mc.Key, mc.Kind, string(caps), string(meta),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert component %s: %w", mc.Key, err)
	}
	return nil
}

func (r *PostgresComponentsRepository) HideMissing(ctx context.Context, deviceID string, keys []string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE components
		SET meta = jsonb_set(
			jsonb_set(meta, '{hidden}', to_jsonb(true), true),
			'{hidden_reason}', to_jsonb('manifest'::text), true
		)
		WHERE device_id = $1
		  AND component_key <> ALL($2::text[])
		  AND COALESCE(meta->>'hidden_reason', '') <> 'manifest'`,
		deviceID, pq.Array(keys),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to hide missing components: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresComponentsRepository) UnhideManifest(ctx context.Context, deviceID string, keys []string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE components
		SET meta = jsonb_set(meta - 'hidden_reason', '{hidden}', to_jsonb(false), true)
		WHERE device_id = $1
		  AND component_key = ANY($2::text[])
		  AND (meta->>'hidden_reason') = 'manifest'`,
		deviceID, pq.Array(keys),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to unhide manifest components: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresComponentsRepository) EnsureStub(ctx context.Context, deviceID, key string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		WITH ins AS (
			INSERT INTO components (device_id, component_key, kind, capabilities, meta)
			VALUES ($1, $2, 'sensor', '{}'::jsonb, '{}'::jsonb)
			ON CONFLICT (device_id, component_key) DO NOTHING
			RETURNING id
		)
		SELECT id FROM ins
		UNION ALL
		SELECT id FROM components WHERE device_id = $1 AND component_key = $2
		LIMIT 1`,
		deviceID, key,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to ensure component %s: %w", key, err)
	}
	return id, nil
}

func (r *PostgresComponentsRepository) EnsureActuator(ctx context.Context, deviceID, key string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO components (device_id, component_key, kind, capabilities, meta)
		VALUES ($1, $2, 'actuator', '{}'::jsonb, '{}'::jsonb)
		ON CONFLICT (device_id, component_key)
		DO UPDATE SET kind = 'actuator'`,
		deviceID, key,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure actuator %s: %w", key, err)
	}
	return nil
}

func (r *PostgresComponentsRepository) UpsertLatest(ctx context.Context, componentID string, payload json.RawMessage) (time.Time, error) {
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO component_latest (component_id, payload, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (component_id)
		DO UPDATE SET payload = excluded.payload, updated_at = now()
		RETURNING updated_at`,
		componentID, string(payload),
	).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to upsert latest: %w", err)
	}
	return updatedAt, nil
}

func (r *PostgresComponentsRepository) MarkSeen(ctx context.Context, componentID string) (SeenResult, error) {
	var (
		wasOnline bool
		res       SeenResult
	)
	err := r.db.QueryRowContext(ctx, `
		UPDATE components c
		SET is_online = true, last_seen_at = now()
		FROM (SELECT id, is_online FROM components WHERE id = $1 FOR UPDATE) prev
		WHERE c.id = prev.id
		RETURNING COALESCE(prev.is_online, false), c.last_seen_at`,
		componentID,
	).Scan(&wasOnline, &res.LastSeenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return res, ErrNotFound
		}
		return res, fmt.Errorf("failed to mark component seen: %w", err)
	}
	res.Transitioned = !wasOnline
	return res, nil
}

func (r *PostgresComponentsRepository) UnhideStale(ctx context.Context, componentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE components
		SET meta = jsonb_set(meta - 'hidden_reason', '{hidden}', to_jsonb(false), true)
		WHERE id = $1 AND (meta->>'hidden_reason') = 'stale'`,
		componentID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to unhide stale component: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresComponentsRepository) ListByDevice(ctx context.Context, deviceID string) ([]domain.Component, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT`+componentColumns+`
		FROM components c
		WHERE c.device_id = $1
		ORDER BY c.component_key ASC`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	defer rows.Close()

	out := []domain.Component{}
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *PostgresComponentsRepository) ListForOwner(ctx context.Context, ownerUserID string) ([]OwnedComponent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT`+componentColumns+`, d.device_uid
		FROM components c
		JOIN devices d ON d.id = c.device_id
		WHERE d.owner_user_id = $1
		ORDER BY d.device_uid ASC, c.component_key ASC`,
		ownerUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	defer rows.Close()

	out := []OwnedComponent{}
	for rows.Next() {
		var uid string
		c, err := scanComponent(rows, &uid)
		if err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		out = append(out, OwnedComponent{DeviceUID: uid, Component: *c})
	}
	return out, rows.Err()
}

func (r *PostgresComponentsRepository) LatestByDevice(ctx context.Context, deviceID string) (map[string]domain.ComponentLatest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.component_key, cl.payload, cl.updated_at
		FROM component_latest cl
		JOIN components c ON c.id = cl.component_id
		WHERE c.device_id = $1`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest: %w", err)
	}
	defer rows.Close()

	out := map[string]domain.ComponentLatest{}
	for rows.Next() {
		var (
			key     string
			payload []byte
			l       domain.ComponentLatest
		)
		if err := rows.Scan(&key, &payload, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan latest: %w", err)
		}
		l.Payload = rawOrEmpty(payload)
		out[key] = l
	}
	return out, rows.Err()
}

// UpdateMeta applies user edits. Setting hidden drops any automatic hidden_reason.
func (r *PostgresComponentsRepository) UpdateMeta(ctx context.Context, deviceUID, ownerUserID, key string, patch domain.ComponentPatch) (*domain.Component, error) {
	args := []any{deviceUID, ownerUserID, key}
	expr := "c.meta"
	if patch.Name != nil {
		args = append(args, *patch.Name)
		expr = fmt.Sprintf("jsonb_set(%s, '{name}', to_jsonb($%d::text), true)", expr, len(args))
	}
	if patch.Hidden != nil {
		args = append(args, *patch.Hidden)
		expr = fmt.Sprintf("jsonb_set(%s - 'hidden_reason', '{hidden}', to_jsonb($%d::boolean), true)", expr, len(args))
	}
	if patch.Visual != nil {
		args = append(args, *patch.Visual)
		expr = fmt.Sprintf("jsonb_set(%s, '{visual}', to_jsonb($%d::text), true)", expr, len(args))
	}

	var b strings.Builder
	b.WriteString("UPDATE components c SET meta = ")
	b.WriteString(expr)
	b.WriteString(`
		FROM devices d
		WHERE d.id = c.device_id
		  AND d.device_uid = $1
		  AND d.owner_user_id = $2
		  AND c.component_key = $3
		RETURNING`)
	b.WriteString(componentColumns)

	c, err := scanComponent(r.db.QueryRowContext(ctx, b.String(), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update component meta: %w", err)
	}
	return c, nil
}

func (r *PostgresComponentsRepository) Delete(ctx context.Context, deviceUID, ownerUserID, key string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM components c
		USING devices d
		WHERE d.id = c.device_id
		  AND d.device_uid = $1
		  AND d.owner_user_id = $2
		  AND c.component_key = $3`,
		deviceUID, ownerUserID, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete component: %w", err)
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

func (r *PostgresComponentsRepository) SweepOffline(ctx context.Context, after time.Duration) ([]OfflineComponent, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE components c
		SET is_online = false
		FROM devices d
		WHERE c.device_id = d.id
		  AND c.is_online = true
		  AND c.kind = 'sensor'
		  AND c.last_seen_at < now() - ($1 * interval '1 second')
		RETURNING c.component_key, c.last_seen_at, c.meta, d.device_uid, COALESCE(d.owner_user_id::text, '')`,
		seconds(after),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep offline components: %w", err)
	}
	defer rows.Close()

	out := []OfflineComponent{}
	for rows.Next() {
		var (
			oc       OfflineComponent
			lastSeen sql.NullTime
			meta     []byte
		)
		if err := rows.Scan(&oc.ComponentKey, &lastSeen, &meta, &oc.DeviceUID, &oc.OwnerUserID); err != nil {
			return nil, fmt.Errorf("failed to scan offline component: %w", err)
		}
		oc.LastSeenAt = timePtr(lastSeen)
		oc.Meta = decodeMeta(meta)
		out = append(out, oc)
	}
	return out, rows.Err()
}

func (r *PostgresComponentsRepository) SweepStale(ctx context.Context, after time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE components
		SET meta = jsonb_set(
			jsonb_set(meta, '{hidden}', to_jsonb(true), true),
			'{hidden_reason}', to_jsonb('stale'::text), true
		)
		WHERE kind = 'sensor'
		  AND COALESCE(meta->'hidden' = 'true'::jsonb, false) = false
		  AND COALESCE(last_seen_at, created_at) < now() - ($1 * interval '1 second')`,
		seconds(after),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to hide stale components: %w", err)
	}
	return res.RowsAffected()
}
