package consumer

import (
	"context"
	"fmt"
	"time"

	mqttcommon "wisefido-iotcore/owl-common/mqtt"

	"go.uber.org/zap"
)

// Subscribed topic patterns
const (
	TopicTelemetry = "devices/+/telemetry/+"
	TopicManifest  = "devices/+/meta/components"
	TopicStatus    = "devices/+/status"
)

const handleTimeout = 10 * time.Second

// Subscriber the part of the MQTT client the consumer needs
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer MQTT message consumer, owned by the service and started once
type MQTTConsumer struct {
	client   Subscriber
	ingestor *Ingestor
	qos      byte
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewMQTTConsumer(client Subscriber, ingestor *Ingestor, qos byte, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		client:   client,
		ingestor: ingestor,
		qos:      qos,
		logger:   logger,
	}
}

func topics() []string {
	return []string{TopicTelemetry, TopicManifest, TopicStatus}
}

// Start subscribes to the device topics; messages are handled until Stop
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if c.cancel != nil {
		return fmt.Errorf("consumer already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	for _, topic := range topics() {
		if err := c.client.Subscribe(topic, c.qos, c.handleMessage); err != nil {
			c.cancel()
			c.cancel = nil
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	c.logger.Info("MQTT consumer started", zap.Strings("topics", topics()))
	return nil
}

// Stop unsubscribes and cancels in-flight handlers
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	if err := c.client.Unsubscribe(topics()...); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.cancel()
	c.cancel = nil

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage one message, bounded by handleTimeout. Failures are logged here
// and never reach the subscription.
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	base := c.ctx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, handleTimeout)
	defer cancel()

	if err := c.ingestor.Handle(ctx, topic, payload); err != nil {
		c.logger.Error("Failed to handle MQTT message",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
	return nil
}
