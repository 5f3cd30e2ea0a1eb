package notify

import (
	"context"
	"testing"
	"time"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/events"
	"wisefido-iotcore/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupNotifier(t *testing.T) (*Notifier, *repository.MemoryStore, *events.Recorder, *time.Time) {
	mem := repository.NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return now })
	rec := &events.Recorder{}
	return NewNotifier(mem.Store().Notifications, rec, time.Minute, zap.NewNop()), mem, rec, &now
}

func TestDeviceOffline_DedupesInsideWindow(t *testing.T) {
	n, mem, rec, now := setupNotifier(t)
	ctx := context.Background()
	name := "  Kitchen  "
	d := repository.OfflineDevice{DeviceUID: "dev_1", Name: &name, OwnerUserID: "u1"}

	n.DeviceOffline(ctx, d)
	n.DeviceOffline(ctx, d)

	assert.Len(t, rec.DeviceStatuses(), 2)
	require.Len(t, rec.Notifications(), 1)
	assert.Equal(t, "Device Kitchen (dev_1) is offline.", rec.Notifications()[0].Body)
	assert.Equal(t, domain.TitleDeviceOffline, rec.Notifications()[0].Title)

	*now = now.Add(2 * time.Minute)
	n.DeviceOffline(ctx, d)
	assert.Len(t, mem.Notifications(), 2)
}

func TestDeviceOffline_LabelFallsBackToUID(t *testing.T) {
	n, _, rec, _ := setupNotifier(t)
	blank := "   "
	n.DeviceOffline(context.Background(), repository.OfflineDevice{DeviceUID: "dev_2", Name: &blank, OwnerUserID: "u1"})

	require.Len(t, rec.Notifications(), 1)
	assert.Equal(t, "Device dev_2 (dev_2) is offline.", rec.Notifications()[0].Body)
}

func TestDeviceOffline_SkipsOwnerless(t *testing.T) {
	n, mem, rec, _ := setupNotifier(t)
	n.DeviceOffline(context.Background(), repository.OfflineDevice{DeviceUID: "dev_3"})

	assert.Empty(t, rec.All())
	assert.Empty(t, mem.Notifications())
}

func TestComponentOffline_NotDeduped(t *testing.T) {
	n, mem, rec, _ := setupNotifier(t)
	ctx := context.Background()
	c := repository.OfflineComponent{
		DeviceUID:    "dev_1",
		OwnerUserID:  "u1",
		ComponentKey: "t1",
		Meta:         domain.Meta{"name": "Thermo"},
	}

	n.ComponentOffline(ctx, c)
	n.ComponentOffline(ctx, c)

	assert.Len(t, rec.ComponentStatuses(), 2)
	require.Len(t, mem.Notifications(), 2)
	assert.Equal(t, "Component Thermo (t1) on device dev_1 is offline.", mem.Notifications()[0].Body)

	c.Meta = domain.Meta{}
	n.ComponentOffline(ctx, c)
	assert.Equal(t, "Component t1 (t1) on device dev_1 is offline.", mem.Notifications()[2].Body)
}
