package domain

import "time"

// NotificationTypeSystem notifications raised by the platform itself
const NotificationTypeSystem = "system"

// Notification titles used for offline transitions
const (
	TitleDeviceOffline    = "Device offline"
	TitleComponentOffline = "Component offline"
)

type Notification struct {
	ID          int64      `json:"id"`
	OwnerUserID string     `json:"owner_user_id"`
	DeviceUID   *string    `json:"device_uid"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Type        string     `json:"type"`
	ReadAt      *time.Time `json:"read_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewNotification insert parameters
type NewNotification struct {
	OwnerUserID string
	DeviceUID   *string
	Title       string
	Body        string
	Type        string
}
