package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/events"
	"wisefido-iotcore/internal/notify"
	"wisefido-iotcore/internal/repository"
	"wisefido-iotcore/internal/store"

	"go.uber.org/zap"
)

// Topic sections under devices/{uid}/
const (
	sectionMeta      = "meta"
	sectionTelemetry = "telemetry"
	sectionStatus    = "status"
)

// Ingestor routes device messages to the manifest, telemetry and status handlers.
// Every handler mutates state through single guarded statements, so messages
// for the same device may be handled concurrently with the sweepers.
type Ingestor struct {
	lookup     store.DeviceLookup
	devices    repository.DevicesRepository
	components repository.ComponentsRepository
	publisher  events.Publisher
	notifier   *notify.Notifier
	logger     *zap.Logger
}

func NewIngestor(
	lookup store.DeviceLookup,
	devices repository.DevicesRepository,
	components repository.ComponentsRepository,
	publisher events.Publisher,
	notifier *notify.Notifier,
	logger *zap.Logger,
) *Ingestor {
	return &Ingestor{
		lookup:     lookup,
		devices:    devices,
		components: components,
		publisher:  publisher,
		notifier:   notifier,
		logger:     logger,
	}
}

// route parsed devices/{uid}/{section}/{rest...}
type route struct {
	deviceUID string
	section   string
	rest      []string
}

func parseTopic(topic string) (route, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "devices" || parts[1] == "" {
		return route{}, false
	}
	return route{deviceUID: parts[1], section: parts[2], rest: parts[3:]}, true
}

// Handle processes one message. Unknown devices and unrelated topics are
// dropped; the returned error is for logging only.
func (i *Ingestor) Handle(ctx context.Context, topic string, payload []byte) error {
	r, ok := parseTopic(topic)
	if !ok {
		i.logger.Debug("Ignoring message on unexpected topic", zap.String("topic", topic))
		return nil
	}

	switch r.section {
	case sectionMeta, sectionTelemetry, sectionStatus:
	default:
		return nil
	}

	ref, err := i.lookup.LookupRef(ctx, r.deviceUID)
	if errors.Is(err, repository.ErrNotFound) {
		i.logger.Debug("Unknown device", zap.String("device_uid", r.deviceUID), zap.String("topic", topic))
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup device %s: %w", r.deviceUID, err)
	}
	dev := device{uid: r.deviceUID, ref: *ref}

	switch r.section {
	case sectionMeta:
		if len(r.rest) != 1 || r.rest[0] != "components" {
			return nil
		}
		return i.handleManifest(ctx, dev, payload)
	case sectionTelemetry:
		if len(r.rest) != 1 || r.rest[0] == "" {
			return nil
		}
		return i.handleTelemetry(ctx, dev, r.rest[0], payload)
	default:
		return i.handleStatus(ctx, dev, payload)
	}
}

// device routing identity of the message being handled
type device struct {
	uid string
	ref domain.DeviceRef
}

func (d device) owner() string {
	return d.ref.OwnerUserID
}
