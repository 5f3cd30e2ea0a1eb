package provision

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

const scriptTimeout = 15 * time.Second

// runFunc runs a command and returns its combined output
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Script runs `sudo -n <script> <uid> <secret>`; sudoers must allow it
// without a password.
type Script struct {
	path   string
	run    runFunc
	logger *zap.Logger
}

func NewScript(path string, logger *zap.Logger) *Script {
	return &Script{path: path, run: execRun, logger: logger}
}

func (s *Script) Provision(ctx context.Context, deviceUID, deviceSecret string) error {
	if err := validate(deviceUID, deviceSecret); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	out, err := s.run(ctx, "sudo", "-n", s.path, deviceUID, deviceSecret)
	if err != nil {
		// the error text of exec never contains argv
		s.logger.Warn("MQTT provisioning script failed",
			zap.String("device_uid", deviceUID),
			zap.String("script", s.path),
			zap.ByteString("output", bytes.TrimSpace(truncate(out, 512))),
			zap.Error(err),
		)
		return fmt.Errorf("provisioning script failed: %w", err)
	}

	s.logger.Info("MQTT user provisioned", zap.String("device_uid", deviceUID))
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
