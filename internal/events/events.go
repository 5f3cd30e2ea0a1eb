package events

import (
	"encoding/json"
	"time"

	"wisefido-iotcore/internal/domain"
)

// Frame types on the live-viewer socket and in the event stream
const (
	TypeDeviceStatus    = "device_status"
	TypeComponentStatus = "component_status"
	TypeComponentLatest = "component_latest"
	TypeNotification    = "notification"
)

// Publisher receives state changes. Implementations must not block the caller
// for long and never return errors: delivery is best effort.
type Publisher interface {
	DeviceStatus(ev DeviceStatus)
	ComponentStatus(ev ComponentStatus)
	ComponentLatest(ev ComponentLatest)
	Notification(n domain.Notification)
}

// DeviceStatus goes to every connection of the owner
type DeviceStatus struct {
	OwnerUserID string     `json:"-"`
	DeviceUID   string     `json:"device_uid"`
	IsOnline    bool       `json:"is_online"`
	LastSeenAt  *time.Time `json:"last_seen_at"`
}

func (e DeviceStatus) MarshalJSON() ([]byte, error) {
	type alias DeviceStatus
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeDeviceStatus, alias(e)})
}

// ComponentStatus goes to owner connections subscribed to the device
type ComponentStatus struct {
	OwnerUserID  string     `json:"-"`
	DeviceUID    string     `json:"device_uid"`
	ComponentKey string     `json:"component_key"`
	IsOnline     bool       `json:"is_online"`
	LastSeenAt   *time.Time `json:"last_seen_at"`
}

func (e ComponentStatus) MarshalJSON() ([]byte, error) {
	type alias ComponentStatus
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeComponentStatus, alias(e)})
}

// ComponentLatest one telemetry sample, same audience as ComponentStatus
type ComponentLatest struct {
	OwnerUserID  string          `json:"-"`
	DeviceUID    string          `json:"device_uid"`
	ComponentKey string          `json:"component_key"`
	Payload      json.RawMessage `json:"payload"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (e ComponentLatest) MarshalJSON() ([]byte, error) {
	type alias ComponentLatest
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeComponentLatest, alias(e)})
}

// NotificationFrame wraps a notification as {"type":"notification","notification":{...}}
type NotificationFrame struct {
	Type         string              `json:"type"`
	Notification domain.Notification `json:"notification"`
}

func NewNotificationFrame(n domain.Notification) NotificationFrame {
	return NotificationFrame{Type: TypeNotification, Notification: n}
}

// Multi fans every event out to each publisher in order
type Multi []Publisher

func (m Multi) DeviceStatus(ev DeviceStatus) {
	for _, p := range m {
		p.DeviceStatus(ev)
	}
}

func (m Multi) ComponentStatus(ev ComponentStatus) {
	for _, p := range m {
		p.ComponentStatus(ev)
	}
}

func (m Multi) ComponentLatest(ev ComponentLatest) {
	for _, p := range m {
		p.ComponentLatest(ev)
	}
}

func (m Multi) Notification(n domain.Notification) {
	for _, p := range m {
		p.Notification(n)
	}
}

// Nop discards everything
type Nop struct{}

func (Nop) DeviceStatus(DeviceStatus) {}
func (Nop) ComponentStatus(ComponentStatus) {}
func (Nop) ComponentLatest(ComponentLatest) {}
func (Nop) Notification(domain.Notification) {}
