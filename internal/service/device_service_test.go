package service

import (
	"context"
	"encoding/json"
	"testing"

	"wisefido-iotcore/internal/domain"
	"wisefido-iotcore/internal/events"
	"wisefido-iotcore/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fleetFixture struct {
	mem   *repository.MemoryStore
	store *repository.Store
	cache *fakeCache
}

func setupFleet(t *testing.T) *fleetFixture {
	mem, store := memoryStore(newClock())
	return &fleetFixture{mem: mem, store: store, cache: &fakeCache{}}
}

func (f *fleetFixture) device(t *testing.T, uid, owner string, keys ...string) *domain.Device {
	ctx := context.Background()
	d := &domain.Device{DeviceUID: uid, OwnerUserID: owner, Status: domain.DeviceStatusActive}
	require.NoError(t, f.store.Devices.Create(ctx, d))
	for _, k := range keys {
		id, err := f.store.Components.EnsureStub(ctx, d.ID, k)
		require.NoError(t, err)
		_, err = f.store.Components.UpsertLatest(ctx, id, json.RawMessage(`{"v":1}`))
		require.NoError(t, err)
	}
	return d
}

func TestDeviceService_OwnerScoped(t *testing.T) {
	f := setupFleet(t)
	svc := NewDeviceService(f.store.Devices, f.store.Components, f.cache, zap.NewNop())
	ctx := context.Background()

	f.device(t, "dev_a", "u1", "t1", "t2")
	f.device(t, "dev_b", "u2", "t1")

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "dev_a", list[0].DeviceUID)

	detail, err := svc.Get(ctx, "u1", "dev_a")
	require.NoError(t, err)
	assert.Len(t, detail.Components, 2)
	assert.JSONEq(t, `{"v":1}`, string(detail.Latest["t1"].Payload))

	_, err = svc.Get(ctx, "u1", "dev_b")
	assert.ErrorIs(t, err, ErrDeviceNotOwned)
	_, err = svc.UpdateLabels(ctx, "u1", "dev_b", nil, nil)
	assert.ErrorIs(t, err, ErrDeviceNotOwned)
	assert.ErrorIs(t, svc.Delete(ctx, "u1", "dev_b"), ErrDeviceNotOwned)

	comps, err := svc.ListComponents(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.Equal(t, "dev_a", comps[0].DeviceUID)

	fleet, err := svc.Fleet(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, fleet.Devices, 1)
	assert.Len(t, fleet.Components, 1)
}

func TestDeviceService_UpdateAndDelete(t *testing.T) {
	f := setupFleet(t)
	svc := NewDeviceService(f.store.Devices, f.store.Components, f.cache, zap.NewNop())
	ctx := context.Background()
	d := f.device(t, "dev_a", "u1", "t1")

	name := "Porch"
	updated, err := svc.UpdateLabels(ctx, "u1", "dev_a", &name, nil)
	require.NoError(t, err)
	require.NotNil(t, updated.Name)
	assert.Equal(t, "Porch", *updated.Name)

	label, hidden := "Temperature", true
	c, err := svc.UpdateComponent(ctx, "u1", "dev_a", "t1", domain.ComponentPatch{Name: &label, Hidden: &hidden})
	require.NoError(t, err)
	assert.Equal(t, "Temperature", c.Meta.Name())
	assert.True(t, c.Meta.Hidden())
	assert.Empty(t, c.Meta.HiddenReason())

	_, err = svc.UpdateComponent(ctx, "u2", "dev_a", "t1", domain.ComponentPatch{Name: &label})
	assert.ErrorIs(t, err, ErrComponentNotOwned)
	assert.ErrorIs(t, svc.DeleteComponent(ctx, "u1", "dev_a", "nope"), ErrComponentNotOwned)

	require.NoError(t, svc.DeleteComponent(ctx, "u1", "dev_a", "t1"))
	_, ok := f.mem.ComponentByKey(d.ID, "t1")
	assert.False(t, ok)

	require.NoError(t, svc.Delete(ctx, "u1", "dev_a"))
	_, ok = f.mem.DeviceByUID("dev_a")
	assert.False(t, ok)
	assert.Equal(t, []string{"dev_a"}, f.cache.dropped)
}

func TestCommandService_Send(t *testing.T) {
	f := setupFleet(t)
	pub := &fakePublisher{}
	svc := NewCommandService(f.store.Devices, f.store.Components, pub, zap.NewNop())
	ctx := context.Background()
	d := f.device(t, "dev_a", "u1")

	resp, err := svc.Send(ctx, CommandRequest{
		OwnerUserID:  "u1",
		DeviceUID:    "dev_a",
		ComponentKey: "relay1",
		Command:      json.RawMessage(`{"on":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, &CommandResponse{OK: true, Topic: "devices/dev_a/command/relay1", Payload: `{"on":true}`}, resp)
	assert.Equal(t, "devices/dev_a/command/relay1", pub.topic)
	assert.Equal(t, byte(0), pub.qos)
	assert.False(t, pub.retained)

	c, ok := f.mem.ComponentByKey(d.ID, "relay1")
	require.True(t, ok)
	assert.Equal(t, domain.KindActuator, c.Kind)

	_, err = svc.Send(ctx, CommandRequest{OwnerUserID: "u2", DeviceUID: "dev_a", ComponentKey: "relay1", Command: json.RawMessage(`1`)})
	assert.ErrorIs(t, err, ErrDeviceNotOwned)

	var verr *ValidationError
	_, err = svc.Send(ctx, CommandRequest{OwnerUserID: "u1", DeviceUID: "dev_a", Command: json.RawMessage(`1`)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "component_key is required", verr.Message)
	_, err = svc.Send(ctx, CommandRequest{OwnerUserID: "u1", DeviceUID: "dev_a", ComponentKey: "relay1"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "command is required", verr.Message)

	pub.err = errBoom
	_, err = svc.Send(ctx, CommandRequest{OwnerUserID: "u1", DeviceUID: "dev_a", ComponentKey: "relay1", Command: json.RawMessage(`1`)})
	assert.ErrorIs(t, err, ErrPublishFailed)
}

func TestNotificationService(t *testing.T) {
	f := setupFleet(t)
	rec := &events.Recorder{}
	svc := NewNotificationService(f.store.Notifications, rec)
	ctx := context.Background()

	var verr *ValidationError
	_, err := svc.Create(ctx, domain.NewNotification{OwnerUserID: "u1", Title: "hi"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title and body are required", verr.Message)

	var ids []int64
	for i := 0; i < 3; i++ {
		n, err := svc.Create(ctx, domain.NewNotification{OwnerUserID: "u1", Title: "hi", Body: "there"})
		require.NoError(t, err)
		assert.Equal(t, domain.NotificationTypeSystem, n.Type)
		ids = append(ids, n.ID)
	}
	_, err = svc.Create(ctx, domain.NewNotification{OwnerUserID: "u2", Title: "other", Body: "user"})
	require.NoError(t, err)
	assert.Len(t, rec.Notifications(), 4)

	list, err := svc.List(ctx, "u1", repository.ListNotificationsQuery{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)

	page, err := svc.List(ctx, "u1", repository.ListNotificationsQuery{Limit: 1, BeforeID: ids[2]})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	read, err := svc.MarkRead(ctx, "u1", ids[0])
	require.NoError(t, err)
	assert.NotNil(t, read.ReadAt)
	_, err = svc.MarkRead(ctx, "u2", ids[0])
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	unread, err := svc.List(ctx, "u1", repository.ListNotificationsQuery{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	require.NoError(t, svc.MarkAllRead(ctx, "u1"))
	unread, err = svc.List(ctx, "u1", repository.ListNotificationsQuery{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, ClampLimit(0))
	assert.Equal(t, 1, ClampLimit(-5))
	assert.Equal(t, 200, ClampLimit(1000))
	assert.Equal(t, 30, ClampLimit(30))
}
