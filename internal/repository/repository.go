package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"wisefido-iotcore/internal/domain"
)

var (
	// ErrNotFound no row matched (or the row belongs to someone else)
	ErrNotFound = errors.New("not found")
	// ErrConflict unique constraint violated
	ErrConflict = errors.New("already exists")
)

// SeenResult outcome of marking a device or component as seen.
// Transitioned is true only when the row was not online before the update.
type SeenResult struct {
	Transitioned bool
	LastSeenAt   time.Time
}

// OfflineDevice row returned by an online -> offline transition
type OfflineDevice struct {
	DeviceUID   string
	Name        *string
	OwnerUserID string
	LastSeenAt  *time.Time
}

// OfflineComponent row returned by the component offline sweep
type OfflineComponent struct {
	DeviceUID    string
	OwnerUserID  string
	ComponentKey string
	Meta         domain.Meta
	LastSeenAt   *time.Time
}

// OwnedComponent a component together with its device uid
type OwnedComponent struct {
	DeviceUID string `json:"device_uid"`
	domain.Component
}

// ListNotificationsQuery paging for the notifications feed (id desc)
type ListNotificationsQuery struct {
	Limit      int
	BeforeID   int64
	UnreadOnly bool
}

// DevicesRepository device rows. Every state transition is a single
// predicate-guarded statement.
type DevicesRepository interface {
	GetByUID(ctx context.Context, deviceUID string) (*domain.Device, error)
	GetOwned(ctx context.Context, deviceUID, ownerUserID string) (*domain.Device, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]domain.Device, error)
	LookupRef(ctx context.Context, deviceUID string) (*domain.DeviceRef, error)
	OwnsDevice(ctx context.Context, ownerUserID, deviceUID string) (bool, error)

	Create(ctx context.Context, d *domain.Device) error
	UpdateLabels(ctx context.Context, deviceUID, ownerUserID string, name, description *string) (*domain.Device, error)
	Delete(ctx context.Context, deviceUID, ownerUserID string) error

	// SetClaimToken replaces the claim token; false when the device is no longer unclaimed.
	SetClaimToken(ctx context.Context, deviceID string, hash []byte, expiresAt time.Time) (bool, error)
	// Activate moves unclaimed -> active if claimHash still matches and has not expired.
	Activate(ctx context.Context, deviceID string, claimHash, secretHash []byte) (bool, error)

	MarkSeen(ctx context.Context, deviceID string) (SeenResult, error)
	// MarkOffline returns nil when the device was already offline.
	MarkOffline(ctx context.Context, deviceID string) (*OfflineDevice, error)
	SweepOffline(ctx context.Context, after time.Duration) ([]OfflineDevice, error)
}

// ComponentsRepository component rows and their latest payload
type ComponentsRepository interface {
	UpsertManifest(ctx context.Context, deviceID string, c domain.ManifestComponent) error
	HideMissing(ctx context.Context, deviceID string, keys []string) (int64, error)
	UnhideManifest(ctx context.Context, deviceID string, keys []string) (int64, error)

	// EnsureStub creates a bare sensor row if absent and never touches an existing one.
	EnsureStub(ctx context.Context, deviceID, key string) (string, error)
	EnsureActuator(ctx context.Context, deviceID, key string) error

	UpsertLatest(ctx context.Context, componentID string, payload json.RawMessage) (time.Time, error)
	MarkSeen(ctx context.Context, componentID string) (SeenResult, error)
	UnhideStale(ctx context.Context, componentID string) (bool, error)

	ListByDevice(ctx context.Context, deviceID string) ([]domain.Component, error)
	ListForOwner(ctx context.Context, ownerUserID string) ([]OwnedComponent, error)
	LatestByDevice(ctx context.Context, deviceID string) (map[string]domain.ComponentLatest, error)
	UpdateMeta(ctx context.Context, deviceUID, ownerUserID, key string, patch domain.ComponentPatch) (*domain.Component, error)
	Delete(ctx context.Context, deviceUID, ownerUserID, key string) error

	SweepOffline(ctx context.Context, after time.Duration) ([]OfflineComponent, error)
	SweepStale(ctx context.Context, after time.Duration) (int64, error)
}

// NotificationsRepository user notifications
type NotificationsRepository interface {
	Insert(ctx context.Context, n domain.NewNotification) (*domain.Notification, error)
	// InsertDeduped returns nil when an identical notification exists inside window.
	InsertDeduped(ctx context.Context, n domain.NewNotification, window time.Duration) (*domain.Notification, error)
	List(ctx context.Context, ownerUserID string, q ListNotificationsQuery) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id int64, ownerUserID string) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, ownerUserID string) (int64, error)
}

// SessionsRepository bearer sessions keyed by token hash
type SessionsRepository interface {
	Create(ctx context.Context, tokenHash []byte, userID string, expiresAt time.Time) error
	// Lookup only returns sessions whose expiry is in the future.
	Lookup(ctx context.Context, tokenHash []byte) (*domain.SessionUser, error)
	Touch(ctx context.Context, tokenHash []byte) error
	Delete(ctx context.Context, tokenHash []byte) error
	DeleteByUser(ctx context.Context, userID string) error
}

// UsersRepository accounts
type UsersRepository interface {
	Create(ctx context.Context, email, passwordHash string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateAvatar(ctx context.Context, id string, avatarKey *string) (*domain.User, error)
}

// Store bundles the repositories used by the service
type Store struct {
	Devices       DevicesRepository
	Components    ComponentsRepository
	Notifications NotificationsRepository
	Sessions      SessionsRepository
	Users         UsersRepository
}
