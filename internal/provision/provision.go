package provision

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"wisefido-iotcore/internal/config"

	"go.uber.org/zap"
)

var (
	deviceUIDPattern    = regexp.MustCompile(`(?i)^dev_[0-9a-f]{16}$`)
	deviceSecretPattern = regexp.MustCompile(`(?i)^[0-9a-f]{64}$`)

	ErrInvalidDeviceUID    = errors.New("invalid device_uid format")
	ErrInvalidDeviceSecret = errors.New("invalid device_secret format")
)

// Provisioner configures broker credentials for a device. The secret is only
// passed through, never logged.
type Provisioner interface {
	Provision(ctx context.Context, deviceUID, deviceSecret string) error
}

// New picks the provisioner for cfg; disabled provisioning always succeeds
func New(cfg config.ProvisionConfig, logger *zap.Logger) (Provisioner, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	switch cfg.Mode {
	case "script", "":
		return NewScript(cfg.Script, logger), nil
	case "http":
		return NewHTTP(cfg.URL, cfg.Token, logger), nil
	default:
		return nil, fmt.Errorf("unknown provision mode %q", cfg.Mode)
	}
}

func validate(deviceUID, deviceSecret string) error {
	if !deviceUIDPattern.MatchString(deviceUID) {
		return ErrInvalidDeviceUID
	}
	if !deviceSecretPattern.MatchString(deviceSecret) {
		return ErrInvalidDeviceSecret
	}
	return nil
}

// Noop used when provisioning is disabled
type Noop struct{}

func (Noop) Provision(context.Context, string, string) error { return nil }
