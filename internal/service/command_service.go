package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"wisefido-iotcore/internal/repository"

	"go.uber.org/zap"
)

// Publisher the part of the MQTT client used to send commands
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// CommandService sends commands to device actuators
type CommandService interface {
	Send(ctx context.Context, req CommandRequest) (*CommandResponse, error)
}

type CommandRequest struct {
	OwnerUserID  string
	DeviceUID    string
	ComponentKey string
	Command      json.RawMessage
}

type CommandResponse struct {
	OK      bool   `json:"ok"`
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

type commandService struct {
	devices    repository.DevicesRepository
	components repository.ComponentsRepository
	publisher  Publisher
	logger     *zap.Logger
}

func NewCommandService(devices repository.DevicesRepository, components repository.ComponentsRepository, publisher Publisher, logger *zap.Logger) CommandService {
	return &commandService{devices: devices, components: components, publisher: publisher, logger: logger}
}

// CommandTopic devices/{uid}/command/{component_key}
func CommandTopic(deviceUID, componentKey string) string {
	return "devices/" + deviceUID + "/command/" + componentKey
}

// Send marks the target component as an actuator and publishes at QoS 0, not retained
func (s *commandService) Send(ctx context.Context, req CommandRequest) (*CommandResponse, error) {
	if req.ComponentKey == "" {
		return nil, invalid("component_key is required")
	}
	if len(req.Command) == 0 {
		return nil, invalid("command is required")
	}

	d, err := s.devices.GetOwned(ctx, req.DeviceUID, req.OwnerUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrDeviceNotOwned
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	if err := s.components.EnsureActuator(ctx, d.ID, req.ComponentKey); err != nil {
		return nil, fmt.Errorf("ensure actuator: %w", err)
	}

	topic := CommandTopic(req.DeviceUID, req.ComponentKey)
	if s.publisher == nil {
		return nil, ErrPublishFailed
	}
	if err := s.publisher.Publish(topic, 0, false, req.Command); err != nil {
		s.logger.Error("Command publish failed", zap.String("topic", topic), zap.Error(err))
		return nil, ErrPublishFailed
	}

	s.logger.Debug("Command published", zap.String("topic", topic))
	return &CommandResponse{OK: true, Topic: topic, Payload: string(req.Command)}, nil
}
