package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"wisefido-iotcore/internal/events"

	"go.uber.org/zap"
)

// parseStatus reads {"online":bool}, {"is_online":bool}, {"state":"online"|"offline"}
// or the raw strings online / offline. Later fields win, as they are checked in order.
func parseStatus(payload []byte) (online bool, ok bool) {
	raw := bytes.TrimSpace(payload)

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		switch string(raw) {
		case "online":
			return true, true
		case "offline":
			return false, true
		}
		return false, false
	}

	obj, isObj := v.(map[string]any)
	if !isObj {
		return false, false
	}
	if b, isBool := obj["online"].(bool); isBool {
		online, ok = b, true
	}
	if b, isBool := obj["is_online"].(bool); isBool {
		online, ok = b, true
	}
	switch obj["state"] {
	case "online":
		online, ok = true, true
	case "offline":
		online, ok = false, true
	}
	return online, ok
}

// handleStatus applies an explicit online/offline announcement. Only a real
// transition produces a device_status event; going offline also raises a
// deduped notification.
func (i *Ingestor) handleStatus(ctx context.Context, dev device, payload []byte) error {
	online, ok := parseStatus(payload)
	if !ok {
		i.logger.Debug("Ignoring unparseable status", zap.String("device_uid", dev.uid))
		return nil
	}

	if online {
		seen, err := i.devices.MarkSeen(ctx, dev.ref.ID)
		if err != nil {
			return fmt.Errorf("mark device %s online: %w", dev.uid, err)
		}
		if seen.Transitioned && dev.owner() != "" {
			lastSeen := seen.LastSeenAt
			i.publisher.DeviceStatus(events.DeviceStatus{
				OwnerUserID: dev.owner(),
				DeviceUID:   dev.uid,
				IsOnline:    true,
				LastSeenAt:  &lastSeen,
			})
		}
		return nil
	}

	offline, err := i.devices.MarkOffline(ctx, dev.ref.ID)
	if err != nil {
		return fmt.Errorf("mark device %s offline: %w", dev.uid, err)
	}
	if offline == nil {
		return nil
	}
	i.notifier.DeviceOffline(ctx, *offline)
	return nil
}
