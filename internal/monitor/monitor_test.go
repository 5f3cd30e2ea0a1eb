package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/events"
	"wisefido-iotcore/internal/notify"
	"wisefido-iotcore/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) Name() string { return "counting" }

func (s *countingSweeper) Sweep(context.Context) error {
	s.calls.Add(1)
	return s.err
}

func TestLoop_RunsUntilStopped(t *testing.T) {
	s := &countingSweeper{err: errors.New("db down")}
	l := NewLoop(s, 5*time.Millisecond, zap.NewNop())

	require.NoError(t, l.Start(context.Background()))
	assert.Error(t, l.Start(context.Background()))

	assert.Eventually(t, func() bool { return s.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	l.Stop()
	stopped := s.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, s.calls.Load())

	l.Stop()
}

func TestLoop_RejectsBadInterval(t *testing.T) {
	l := NewLoop(&countingSweeper{}, 0, zap.NewNop())
	assert.Error(t, l.Start(context.Background()))
}

type sweepFixture struct {
	mem   *repository.MemoryStore
	store *repository.Store
	rec   *events.Recorder
	notif *notify.Notifier
	now   time.Time
}

func setupSweep(t *testing.T) *sweepFixture {
	f := &sweepFixture{
		mem: repository.NewMemoryStore(),
		rec: &events.Recorder{},
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.mem.SetClock(func() time.Time { return f.now })
	f.store = f.mem.Store()
	f.notif = notify.NewNotifier(f.store.Notifications, f.rec, time.Minute, zap.NewNop())
	return f
}

func (f *sweepFixture) onlineDevice(t *testing.T, uid, owner string) *domain.Device {
	ctx := context.Background()
	d := &domain.Device{DeviceUID: uid, OwnerUserID: owner, Status: domain.DeviceStatusActive}
	require.NoError(t, f.store.Devices.Create(ctx, d))
	_, err := f.store.Devices.MarkSeen(ctx, d.ID)
	require.NoError(t, err)
	return d
}

func TestDeviceOffline_NotifiesOncePerWindow(t *testing.T) {
	f := setupSweep(t)
	ctx := context.Background()
	f.onlineDevice(t, "dev_a", "u1")
	f.onlineDevice(t, "dev_b", "u2")
	f.onlineDevice(t, "dev_c", "")
	s := NewDeviceOffline(f.store.Devices, f.notif, 20*time.Second, zap.NewNop())

	f.now = f.now.Add(10 * time.Second)
	require.NoError(t, s.Sweep(ctx))
	assert.Empty(t, f.rec.All())

	f.now = f.now.Add(15 * time.Second)
	require.NoError(t, s.Sweep(ctx))
	assert.Len(t, f.rec.DeviceStatuses(), 2)
	assert.Len(t, f.rec.Notifications(), 2)
	for _, uid := range []string{"dev_a", "dev_b", "dev_c"} {
		d, _ := f.mem.DeviceByUID(uid)
		assert.False(t, d.IsOnline, uid)
	}

	// back online and silent again inside the dedupe window
	a, _ := f.mem.DeviceByUID("dev_a")
	_, err := f.store.Devices.MarkSeen(ctx, a.ID)
	require.NoError(t, err)
	f.now = f.now.Add(25 * time.Second)
	require.NoError(t, s.Sweep(ctx))
	assert.Len(t, f.rec.DeviceStatuses(), 3)
	assert.Len(t, f.mem.Notifications(), 2)

	// repeat tick: nothing left to flip
	require.NoError(t, s.Sweep(ctx))
	assert.Len(t, f.rec.DeviceStatuses(), 3)
}

func TestComponentOffline_SensorsOnlyNoDedupe(t *testing.T) {
	f := setupSweep(t)
	ctx := context.Background()
	d := f.onlineDevice(t, "dev_a", "u1")

	sensor, err := f.store.Components.EnsureStub(ctx, d.ID, "t1")
	require.NoError(t, err)
	require.NoError(t, f.store.Components.EnsureActuator(ctx, d.ID, "relay"))
	relay, _ := f.mem.ComponentByKey(d.ID, "relay")
	for _, id := range []string{sensor, relay.ID} {
		_, err := f.store.Components.MarkSeen(ctx, id)
		require.NoError(t, err)
	}
	s := NewComponentOffline(f.store.Components, f.notif, 20*time.Second, zap.NewNop())

	f.now = f.now.Add(30 * time.Second)
	require.NoError(t, s.Sweep(ctx))
	require.Len(t, f.rec.ComponentStatuses(), 1)
	assert.Equal(t, "t1", f.rec.ComponentStatuses()[0].ComponentKey)
	relay, _ = f.mem.ComponentByKey(d.ID, "relay")
	assert.True(t, relay.IsOnline)

	_, err = f.store.Components.MarkSeen(ctx, sensor)
	require.NoError(t, err)
	f.now = f.now.Add(30 * time.Second)
	require.NoError(t, s.Sweep(ctx))
	assert.Len(t, f.mem.Notifications(), 2)
}

func TestAutoHide_HidesLongSilentSensors(t *testing.T) {
	f := setupSweep(t)
	ctx := context.Background()
	d := f.onlineDevice(t, "dev_a", "u1")

	_, err := f.store.Components.EnsureStub(ctx, d.ID, "never")
	require.NoError(t, err)
	fresh, err := f.store.Components.EnsureStub(ctx, d.ID, "fresh")
	require.NoError(t, err)
	require.NoError(t, f.store.Components.EnsureActuator(ctx, d.ID, "relay"))
	s := NewAutoHide(f.store.Components, 120*time.Second, zap.NewNop())

	f.now = f.now.Add(100 * time.Second)
	_, err = f.store.Components.MarkSeen(ctx, fresh)
	require.NoError(t, err)
	f.now = f.now.Add(30 * time.Second)
	require.NoError(t, s.Sweep(ctx))

	never, _ := f.mem.ComponentByKey(d.ID, "never")
	assert.True(t, never.Meta.Hidden())
	assert.Equal(t, domain.HiddenReasonStale, never.Meta.HiddenReason())

	freshC, _ := f.mem.ComponentByKey(d.ID, "fresh")
	assert.False(t, freshC.Meta.Hidden())
	relay, _ := f.mem.ComponentByKey(d.ID, "relay")
	assert.False(t, relay.Meta.Hidden())
	assert.Empty(t, f.rec.All())
}
