package monitor

import (
	"context"
	"fmt"
	"time"

	"wisefido-iotcore/internal/notify"
	"wisefido-iotcore/internal/repository"

	"go.uber.org/zap"
)

// DeviceOffline flips silent devices offline in one statement and notifies owners
type DeviceOffline struct {
	devices  repository.DevicesRepository
	notifier *notify.Notifier
	after    time.Duration
	logger   *zap.Logger
}

func NewDeviceOffline(devices repository.DevicesRepository, notifier *notify.Notifier, after time.Duration, logger *zap.Logger) *DeviceOffline {
	return &DeviceOffline{devices: devices, notifier: notifier, after: after, logger: logger}
}

func (s *DeviceOffline) Name() string { return "device-offline" }

func (s *DeviceOffline) Sweep(ctx context.Context) error {
	rows, err := s.devices.SweepOffline(ctx, s.after)
	if err != nil {
		return fmt.Errorf("sweep offline devices: %w", err)
	}
	for _, d := range rows {
		s.notifier.DeviceOffline(ctx, d)
	}
	if len(rows) > 0 {
		s.logger.Info("Devices went offline", zap.Int("count", len(rows)))
	}
	return nil
}

// ComponentOffline same for sensor components
type ComponentOffline struct {
	components repository.ComponentsRepository
	notifier   *notify.Notifier
	after      time.Duration
	logger     *zap.Logger
}

func NewComponentOffline(components repository.ComponentsRepository, notifier *notify.Notifier, after time.Duration, logger *zap.Logger) *ComponentOffline {
	return &ComponentOffline{components: components, notifier: notifier, after: after, logger: logger}
}

func (s *ComponentOffline) Name() string { return "component-offline" }

func (s *ComponentOffline) Sweep(ctx context.Context) error {
	rows, err := s.components.SweepOffline(ctx, s.after)
	if err != nil {
		return fmt.Errorf("sweep offline components: %w", err)
	}
	for _, c := range rows {
		s.notifier.ComponentOffline(ctx, c)
	}
	if len(rows) > 0 {
		s.logger.Info("Components went offline", zap.Int("count", len(rows)))
	}
	return nil
}

// AutoHide hides sensors silent for much longer than the offline threshold.
// Nothing is published: hidden is a display hint, not a live state.
type AutoHide struct {
	components repository.ComponentsRepository
	after      time.Duration
	logger     *zap.Logger
}

func NewAutoHide(components repository.ComponentsRepository, after time.Duration, logger *zap.Logger) *AutoHide {
	return &AutoHide{components: components, after: after, logger: logger}
}

func (s *AutoHide) Name() string { return "component-autohide" }

func (s *AutoHide) Sweep(ctx context.Context) error {
	n, err := s.components.SweepStale(ctx, s.after)
	if err != nil {
		return fmt.Errorf("hide stale components: %w", err)
	}
	if n > 0 {
		s.logger.Info("Stale components hidden", zap.Int64("count", n))
	}
	return nil
}
