package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-iotcore/internal/events"

	"go.uber.org/zap"
)

// handleTelemetry stores the latest sample of a component, creating a stub
// sensor when the manifest has not described it yet. Status events are only
// emitted on an offline -> online transition; component_latest on every sample.
func (i *Ingestor) handleTelemetry(ctx context.Context, dev device, key string, payload []byte) error {
	if !json.Valid(payload) {
		i.logger.Debug("Dropping non-JSON telemetry",
			zap.String("device_uid", dev.uid),
			zap.String("component_key", key),
		)
		return nil
	}
	sample := json.RawMessage(append([]byte(nil), payload...))

	componentID, err := i.components.EnsureStub(ctx, dev.ref.ID, key)
	if err != nil {
		return fmt.Errorf("ensure component %s/%s: %w", dev.uid, key, err)
	}

	updatedAt, err := i.components.UpsertLatest(ctx, componentID, sample)
	if err != nil {
		return fmt.Errorf("store latest %s/%s: %w", dev.uid, key, err)
	}

	seen, err := i.components.MarkSeen(ctx, componentID)
	if err != nil {
		return fmt.Errorf("mark component %s/%s seen: %w", dev.uid, key, err)
	}
	if seen.Transitioned && dev.owner() != "" {
		lastSeen := seen.LastSeenAt
		i.publisher.ComponentStatus(events.ComponentStatus{
			OwnerUserID:  dev.owner(),
			DeviceUID:    dev.uid,
			ComponentKey: key,
			IsOnline:     true,
			LastSeenAt:   &lastSeen,
		})
	}

	if _, err := i.components.UnhideStale(ctx, componentID); err != nil {
		return fmt.Errorf("unhide component %s/%s: %w", dev.uid, key, err)
	}

	devSeen, err := i.devices.MarkSeen(ctx, dev.ref.ID)
	if err != nil {
		return fmt.Errorf("mark device %s seen: %w", dev.uid, err)
	}
	if devSeen.Transitioned && dev.owner() != "" {
		lastSeen := devSeen.LastSeenAt
		i.publisher.DeviceStatus(events.DeviceStatus{
			OwnerUserID: dev.owner(),
			DeviceUID:   dev.uid,
			IsOnline:    true,
			LastSeenAt:  &lastSeen,
		})
	}

	if dev.owner() != "" {
		i.publisher.ComponentLatest(events.ComponentLatest{
			OwnerUserID:  dev.owner(),
			DeviceUID:    dev.uid,
			ComponentKey: key,
			Payload:      sample,
			UpdatedAt:    updatedAt,
		})
	}
	return nil
}
