package events

import (
	"context"
	"time"

	"wisefido-iotcore/internal/domain"
	rediscommon "wisefido-iotcore/owl-common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamMirror appends every event to a Redis stream for downstream services.
type StreamMirror struct {
	client  *redis.Client
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  *zap.Logger
}

func NewStreamMirror(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamMirror {
	return &StreamMirror{
		client:  client,
		stream:  stream,
		maxLen:  maxLen,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

func (s *StreamMirror) publish(eventType string, ownerUserID string, data any) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	id, err := rediscommon.PublishToStream(ctx, s.client, s.stream, s.maxLen, map[string]interface{}{
		"type":          eventType,
		"owner_user_id": ownerUserID,
		"data":          data,
		"timestamp":     time.Now().Unix(),
	})
	if err != nil {
		s.logger.Warn("Failed to mirror event to stream",
			zap.String("stream", s.stream),
			zap.String("type", eventType),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Mirrored event", zap.String("type", eventType), zap.String("stream_id", id))
}

func (s *StreamMirror) DeviceStatus(ev DeviceStatus) {
	s.publish(TypeDeviceStatus, ev.OwnerUserID, ev)
}

func (s *StreamMirror) ComponentStatus(ev ComponentStatus) {
	s.publish(TypeComponentStatus, ev.OwnerUserID, ev)
}

func (s *StreamMirror) ComponentLatest(ev ComponentLatest) {
	s.publish(TypeComponentLatest, ev.OwnerUserID, ev)
}

func (s *StreamMirror) Notification(n domain.Notification) {
	s.publish(TypeNotification, n.OwnerUserID, n)
}
