package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/provision"
	"wisefido-iotcore/internal/repository"

	"go.uber.org/zap"
)

// CacheInvalidator drops cached routing data of a device
type CacheInvalidator interface {
	Invalidate(ctx context.Context, deviceUID string)
}

// ClaimService claim/provisioning authority: unclaimed -> active exactly once
type ClaimService interface {
	Register(ctx context.Context, req RegisterDeviceRequest) (*ClaimTokenResponse, error)
	ReissueClaimToken(ctx context.Context, ownerUserID, deviceUID string) (*ClaimTokenResponse, error)
	Claim(ctx context.Context, req ClaimRequest) (*ClaimResponse, error)
	ProvisionMQTT(ctx context.Context, req ProvisionRequest) error
}

type RegisterDeviceRequest struct {
	OwnerUserID string
	Name        *string
	Description *string
}

// ClaimTokenResponse ClaimToken is shown once
type ClaimTokenResponse struct {
	DeviceUID      string    `json:"device_uid"`
	ClaimToken     string    `json:"claim_token"`
	ClaimExpiresAt time.Time `json:"claim_expires_at"`
}

type ClaimRequest struct {
	DeviceUID  string `json:"device_uid"`
	ClaimToken string `json:"claim_token"`
}

// ClaimResponse DeviceSecret is shown once
type ClaimResponse struct {
	DeviceUID       string `json:"device_uid"`
	DeviceSecret    string `json:"device_secret"`
	MQTTProvisioned bool   `json:"mqtt_provisioned"`
}

type ProvisionRequest struct {
	DeviceUID    string `json:"device_uid"`
	DeviceSecret string `json:"device_secret"`
}

type claimService struct {
	devices     repository.DevicesRepository
	provisioner provision.Provisioner
	cache       CacheInvalidator
	tokenTTL    time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

func NewClaimService(
	devices repository.DevicesRepository,
	provisioner provision.Provisioner,
	cache CacheInvalidator,
	tokenTTL time.Duration,
	logger *zap.Logger,
) ClaimService {
	return &claimService{
		devices:     devices,
		provisioner: provisioner,
		cache:       cache,
		tokenTTL:    tokenTTL,
		now:         time.Now,
		logger:      logger,
	}
}

// Register creates an unclaimed device with a fresh claim token
func (s *claimService) Register(ctx context.Context, req RegisterDeviceRequest) (*ClaimTokenResponse, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(s.tokenTTL).UTC()

	// uid collisions are astronomically rare, retry a couple of times anyway
	for attempt := 0; attempt < 3; attempt++ {
		uid, err := newDeviceUID()
		if err != nil {
			return nil, err
		}
		d := &domain.Device{
			DeviceUID:      uid,
			OwnerUserID:    req.OwnerUserID,
			Name:           req.Name,
			Description:    req.Description,
			Status:         domain.DeviceStatusUnclaimed,
			ClaimTokenHash: hashToken(token),
			ClaimExpiresAt: &expiresAt,
		}
		err = s.devices.Create(ctx, d)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create device: %w", err)
		}

		s.logger.Info("Device registered",
			zap.String("device_uid", uid),
			zap.String("owner_user_id", req.OwnerUserID),
		)
		return &ClaimTokenResponse{DeviceUID: uid, ClaimToken: token, ClaimExpiresAt: expiresAt}, nil
	}
	return nil, fmt.Errorf("create device: could not allocate a unique device_uid")
}

// ReissueClaimToken replaces the claim token while the device is still unclaimed
func (s *claimService) ReissueClaimToken(ctx context.Context, ownerUserID, deviceUID string) (*ClaimTokenResponse, error) {
	d, err := s.devices.GetOwned(ctx, deviceUID, ownerUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrDeviceNotOwned
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if d.Status != domain.DeviceStatusUnclaimed {
		return nil, ErrDeviceAlreadyClaimed
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(s.tokenTTL).UTC()
	ok, err := s.devices.SetClaimToken(ctx, d.ID, hashToken(token), expiresAt)
	if err != nil {
		return nil, fmt.Errorf("set claim token: %w", err)
	}
	if !ok {
		// claimed in between
		return nil, ErrDeviceAlreadyClaimed
	}
	return &ClaimTokenResponse{DeviceUID: deviceUID, ClaimToken: token, ClaimExpiresAt: expiresAt}, nil
}

// Claim exchanges a valid claim token for a device secret. The activation is a
// single guarded update, so of two concurrent claims with the same token only
// one succeeds. Provisioning failure is reported, not returned.
func (s *claimService) Claim(ctx context.Context, req ClaimRequest) (*ClaimResponse, error) {
	if len(req.DeviceUID) < 5 {
		return nil, invalid("device_uid is required")
	}
	if len(req.ClaimToken) < 20 {
		return nil, invalid("claim_token is required")
	}

	d, err := s.devices.GetByUID(ctx, req.DeviceUID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	if d.Status != domain.DeviceStatusUnclaimed {
		return nil, ErrDeviceNotClaimable
	}
	if len(d.ClaimTokenHash) == 0 || d.ClaimExpiresAt == nil {
		return nil, ErrNoActiveClaimToken
	}
	if d.ClaimExpiresAt.Before(s.now()) {
		return nil, ErrClaimTokenExpired
	}
	presented := hashToken(req.ClaimToken)
	if !hashEqual(d.ClaimTokenHash, presented) {
		s.logger.Warn("Claim rejected: token mismatch", zap.String("device_uid", req.DeviceUID))
		return nil, ErrInvalidClaimToken
	}

	secret, err := newToken()
	if err != nil {
		return nil, err
	}
	activated, err := s.devices.Activate(ctx, d.ID, presented, hashToken(secret))
	if err != nil {
		return nil, fmt.Errorf("activate device: %w", err)
	}
	if !activated {
		s.logger.Warn("Claim rejected: lost activation race", zap.String("device_uid", req.DeviceUID))
		return nil, ErrInvalidClaimToken
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, req.DeviceUID)
	}

	provisioned := true
	if err := s.provisioner.Provision(ctx, req.DeviceUID, secret); err != nil {
		provisioned = false
		s.logger.Error("MQTT provisioning failed after claim",
			zap.String("device_uid", req.DeviceUID),
			zap.Error(err),
		)
	}

	s.logger.Info("Device claimed",
		zap.String("device_uid", req.DeviceUID),
		zap.Bool("mqtt_provisioned", provisioned),
	)
	return &ClaimResponse{DeviceUID: req.DeviceUID, DeviceSecret: secret, MQTTProvisioned: provisioned}, nil
}

// ProvisionMQTT lets an active device re-provision its broker user by proving
// its secret. Here a provisioning failure is an error.
func (s *claimService) ProvisionMQTT(ctx context.Context, req ProvisionRequest) error {
	if len(req.DeviceUID) < 5 {
		return invalid("device_uid is required")
	}
	if len(req.DeviceSecret) < 40 {
		return invalid("device_secret is required")
	}

	d, err := s.devices.GetByUID(ctx, req.DeviceUID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}
	if d.Status != domain.DeviceStatusActive {
		return ErrDeviceNotActive
	}
	if len(d.DeviceSecretHash) == 0 {
		return ErrDeviceHasNoSecret
	}
	if !hashEqual(d.DeviceSecretHash, hashToken(req.DeviceSecret)) {
		s.logger.Warn("Provisioning rejected: secret mismatch", zap.String("device_uid", req.DeviceUID))
		return ErrInvalidDeviceSecret
	}

	if err := s.provisioner.Provision(ctx, req.DeviceUID, req.DeviceSecret); err != nil {
		s.logger.Error("MQTT provisioning failed", zap.String("device_uid", req.DeviceUID), zap.Error(err))
		return ErrProvisioningFailed
	}
	return nil
}
