package notify

import (
	"context"
	"fmt"
	"time"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/events"
	"wisefido-iotcore/internal/repository"

	"go.uber.org/zap"
)

// Notifier turns offline transitions into status events and user notifications.
// Shared by the status handler and the offline sweepers.
type Notifier struct {
	repo         repository.NotificationsRepository
	publisher    events.Publisher
	dedupeWindow time.Duration
	logger       *zap.Logger
}

func NewNotifier(repo repository.NotificationsRepository, publisher events.Publisher, dedupeWindow time.Duration, logger *zap.Logger) *Notifier {
	return &Notifier{
		repo:         repo,
		publisher:    publisher,
		dedupeWindow: dedupeWindow,
		logger:       logger,
	}
}

// DeviceOffline emits device_status and a deduped "Device offline" notification
func (n *Notifier) DeviceOffline(ctx context.Context, d repository.OfflineDevice) {
	if d.OwnerUserID == "" {
		return
	}
	n.publisher.DeviceStatus(events.DeviceStatus{
		OwnerUserID: d.OwnerUserID,
		DeviceUID:   d.DeviceUID,
		IsOnline:    false,
		LastSeenAt:  d.LastSeenAt,
	})

	uid := d.DeviceUID
	inserted, err := n.repo.InsertDeduped(ctx, domain.NewNotification{
		OwnerUserID: d.OwnerUserID,
		DeviceUID:   &uid,
		Title:       domain.TitleDeviceOffline,
		Body:        fmt.Sprintf("Device %s (%s) is offline.", domain.DeviceLabel(d.Name, d.DeviceUID), d.DeviceUID),
		Type:        domain.NotificationTypeSystem,
	}, n.dedupeWindow)
	if err != nil {
		n.logger.Error("Failed to insert device offline notification",
			zap.String("device_uid", d.DeviceUID),
			zap.Error(err),
		)
		return
	}
	if inserted == nil {
		n.logger.Debug("Device offline notification suppressed", zap.String("device_uid", d.DeviceUID))
		return
	}
	n.publisher.Notification(*inserted)
}

// ComponentOffline emits component_status and a "Component offline" notification.
// Component notifications are not deduped.
func (n *Notifier) ComponentOffline(ctx context.Context, c repository.OfflineComponent) {
	if c.OwnerUserID == "" {
		return
	}
	n.publisher.ComponentStatus(events.ComponentStatus{
		OwnerUserID:  c.OwnerUserID,
		DeviceUID:    c.DeviceUID,
		ComponentKey: c.ComponentKey,
		IsOnline:     false,
		LastSeenAt:   c.LastSeenAt,
	})

	label := c.Meta.Name()
	if label == "" {
		label = c.ComponentKey
	}
	uid := c.DeviceUID
	inserted, err := n.repo.Insert(ctx, domain.NewNotification{
		OwnerUserID: c.OwnerUserID,
		DeviceUID:   &uid,
		Title:       domain.TitleComponentOffline,
		Body:        fmt.Sprintf("Component %s (%s) on device %s is offline.", label, c.ComponentKey, c.DeviceUID),
		Type:        domain.NotificationTypeSystem,
	})
	if err != nil {
		n.logger.Error("Failed to insert component offline notification",
			zap.String("device_uid", c.DeviceUID),
			zap.String("component_key", c.ComponentKey),
			zap.Error(err),
		)
		return
	}
	n.publisher.Notification(*inserted)
}
