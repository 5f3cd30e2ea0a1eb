package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"wisefido-iotcore/internal/domain"

	"go.uber.org/zap"
)

const deviceKeyPrefix = "iotcore:device:"

// DeviceLookup resolves a device uid to its routing identity
type DeviceLookup interface {
	LookupRef(ctx context.Context, deviceUID string) (*domain.DeviceRef, error)
}

// DeviceCache read-through cache in front of a DeviceLookup.
// Only found devices are cached; Redis failures fall back to the source.
type DeviceCache struct {
	kv     KV
	source DeviceLookup
	ttl    time.Duration
	logger *zap.Logger
}

// NewDeviceCache kv may be nil, in which case every lookup goes to source.
func NewDeviceCache(kv KV, source DeviceLookup, ttl time.Duration, logger *zap.Logger) *DeviceCache {
	return &DeviceCache{kv: kv, source: source, ttl: ttl, logger: logger}
}

func deviceKey(deviceUID string) string {
	return deviceKeyPrefix + deviceUID
}

func (c *DeviceCache) LookupRef(ctx context.Context, deviceUID string) (*domain.DeviceRef, error) {
	if c.kv == nil || c.ttl <= 0 {
		return c.source.LookupRef(ctx, deviceUID)
	}

	raw, err := c.kv.Get(ctx, deviceKey(deviceUID))
	switch {
	case err == nil:
		var ref domain.DeviceRef
		if jerr := json.Unmarshal([]byte(raw), &ref); jerr == nil && ref.ID != "" {
			return &ref, nil
		}
		c.logger.Warn("Dropping corrupt device cache entry", zap.String("device_uid", deviceUID))
	case !errors.Is(err, ErrMiss):
		c.logger.Warn("Device cache read failed", zap.String("device_uid", deviceUID), zap.Error(err))
	}

	ref, err := c.source.LookupRef(ctx, deviceUID)
	if err != nil {
		return nil, err
	}

	if b, jerr := json.Marshal(ref); jerr == nil {
		if serr := c.kv.Set(ctx, deviceKey(deviceUID), string(b), c.ttl); serr != nil {
			c.logger.Warn("Device cache write failed", zap.String("device_uid", deviceUID), zap.Error(serr))
		}
	}
	return ref, nil
}

// Invalidate drops the cached entry (device deleted or re-owned)
func (c *DeviceCache) Invalidate(ctx context.Context, deviceUID string) {
	if c.kv == nil {
		return
	}
	if err := c.kv.Del(ctx, deviceKey(deviceUID)); err != nil {
		c.logger.Warn("Device cache invalidate failed", zap.String("device_uid", deviceUID), zap.Error(err))
	}
}
