package service

import (
	"context"
	"errors"
	"fmt"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/repository"

	"go.uber.org/zap"
)

// DeviceService owner-scoped device and component management
type DeviceService interface {
	List(ctx context.Context, ownerUserID string) ([]domain.Device, error)
	Get(ctx context.Context, ownerUserID, deviceUID string) (*DeviceDetail, error)
	UpdateLabels(ctx context.Context, ownerUserID, deviceUID string, name, description *string) (*domain.Device, error)
	Delete(ctx context.Context, ownerUserID, deviceUID string) error

	ListComponents(ctx context.Context, ownerUserID string) ([]repository.OwnedComponent, error)
	UpdateComponent(ctx context.Context, ownerUserID, deviceUID, key string, patch domain.ComponentPatch) (*domain.Component, error)
	DeleteComponent(ctx context.Context, ownerUserID, deviceUID, key string) error

	Fleet(ctx context.Context, ownerUserID string) (*Fleet, error)
}

// DeviceDetail a device with its components and their latest samples
type DeviceDetail struct {
	Device     *domain.Device                    `json:"device"`
	Components []domain.Component                `json:"components"`
	Latest     map[string]domain.ComponentLatest `json:"latest"`
}

// Fleet everything a user owns, for export
type Fleet struct {
	Devices    []domain.Device
	Components []repository.OwnedComponent
}

type deviceService struct {
	devices    repository.DevicesRepository
	components repository.ComponentsRepository
	cache      CacheInvalidator
	logger     *zap.Logger
}

func NewDeviceService(devices repository.DevicesRepository, components repository.ComponentsRepository, cache CacheInvalidator, logger *zap.Logger) DeviceService {
	return &deviceService{devices: devices, components: components, cache: cache, logger: logger}
}

func (s *deviceService) List(ctx context.Context, ownerUserID string) ([]domain.Device, error) {
	list, err := s.devices.ListByOwner(ctx, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return list, nil
}

func (s *deviceService) Get(ctx context.Context, ownerUserID, deviceUID string) (*DeviceDetail, error) {
	d, err := s.devices.GetOwned(ctx, deviceUID, ownerUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrDeviceNotOwned
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	comps, err := s.components.ListByDevice(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	latest, err := s.components.LatestByDevice(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("latest telemetry: %w", err)
	}
	return &DeviceDetail{Device: d, Components: comps, Latest: latest}, nil
}

func (s *deviceService) UpdateLabels(ctx context.Context, ownerUserID, deviceUID string, name, description *string) (*domain.Device, error) {
	d, err := s.devices.UpdateLabels(ctx, deviceUID, ownerUserID, name, description)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrDeviceNotOwned
	}
	if err != nil {
		return nil, fmt.Errorf("update device: %w", err)
	}
	return d, nil
}

// Delete removes the device with its components; prior notifications stay
func (s *deviceService) Delete(ctx context.Context, ownerUserID, deviceUID string) error {
	err := s.devices.Delete(ctx, deviceUID, ownerUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrDeviceNotOwned
	}
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, deviceUID)
	}
	s.logger.Info("Device deleted", zap.String("device_uid", deviceUID), zap.String("owner_user_id", ownerUserID))
	return nil
}

func (s *deviceService) ListComponents(ctx context.Context, ownerUserID string) ([]repository.OwnedComponent, error) {
	list, err := s.components.ListForOwner(ctx, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	return list, nil
}

func (s *deviceService) UpdateComponent(ctx context.Context, ownerUserID, deviceUID, key string, patch domain.ComponentPatch) (*domain.Component, error) {
	c, err := s.components.UpdateMeta(ctx, deviceUID, ownerUserID, key, patch)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrComponentNotOwned
	}
	if err != nil {
		return nil, fmt.Errorf("update component: %w", err)
	}
	return c, nil
}

func (s *deviceService) DeleteComponent(ctx context.Context, ownerUserID, deviceUID, key string) error {
	err := s.components.Delete(ctx, deviceUID, ownerUserID, key)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrComponentNotOwned
	}
	if err != nil {
		return fmt.Errorf("delete component: %w", err)
	}
	return nil
}

func (s *deviceService) Fleet(ctx context.Context, ownerUserID string) (*Fleet, error) {
	devices, err := s.List(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	comps, err := s.ListComponents(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	return &Fleet{Devices: devices, Components: comps}, nil
}
