package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTP posts credentials to a broker admin endpoint
type HTTP struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

type provisionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func NewHTTP(url, token string, logger *zap.Logger) *HTTP {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTP{client: client, url: url, logger: logger}
}

func (h *HTTP) Provision(ctx context.Context, deviceUID, deviceSecret string) error {
	if err := validate(deviceUID, deviceSecret); err != nil {
		return err
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(provisionRequest{Username: deviceUID, Password: deviceSecret}).
		Post(h.url)
	if err != nil {
		h.logger.Warn("MQTT provisioning request failed", zap.String("device_uid", deviceUID), zap.Error(err))
		return fmt.Errorf("provisioning request failed: %w", err)
	}
	if resp.IsError() {
		h.logger.Warn("MQTT provisioning rejected",
			zap.String("device_uid", deviceUID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("provisioning rejected: status %d", resp.StatusCode())
	}

	h.logger.Info("MQTT user provisioned", zap.String("device_uid", deviceUID))
	return nil
}
