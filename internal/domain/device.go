package domain

import "time"

// Device lifecycle status
const (
	DeviceStatusUnclaimed = "unclaimed"
	DeviceStatusActive    = "active"
	DeviceStatusRevoked   = "revoked"
)

// Device a physical device owned by a user.
// Hash and expiry fields never leave the process.
type Device struct {
	ID          string     `json:"id"`
	DeviceUID   string     `json:"device_uid"`
	OwnerUserID string     `json:"-"`
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	Status      string     `json:"status"`
	IsOnline    bool       `json:"is_online"`
	LastSeenAt  *time.Time `json:"last_seen_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	ClaimTokenHash   []byte     `json:"-"`
	ClaimExpiresAt   *time.Time `json:"-"`
	DeviceSecretHash []byte     `json:"-"`
	SecretRotatedAt  *time.Time `json:"-"`
}

// Label is the trimmed name, or the uid when the name is blank
func (d *Device) Label() string {
	return DeviceLabel(d.Name, d.DeviceUID)
}

// DeviceLabel display label used in notifications
func DeviceLabel(name *string, deviceUID string) string {
	if name != nil {
		if n := trimSpace(*name); n != "" {
			return n
		}
	}
	return deviceUID
}

// DeviceRef minimal identity needed to route an inbound message
type DeviceRef struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"owner_user_id"`
}
