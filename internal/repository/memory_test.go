package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"wisefido-iotcore/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestMemory(t *testing.T) (*MemoryStore, *Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemoryStore()
	m.SetClock(clock.Now)
	return m, m.Store(), clock
}

func createDevice(t *testing.T, s *Store, uid, owner string) *domain.Device {
	d := &domain.Device{DeviceUID: uid, OwnerUserID: owner, Status: domain.DeviceStatusUnclaimed}
	require.NoError(t, s.Devices.Create(context.Background(), d))
	return d
}

func TestMemoryActivate_SingleUse(t *testing.T) {
	_, s, clock := newTestMemory(t)
	ctx := context.Background()
	d := createDevice(t, s, "dev_a", "u1")

	ok, err := s.Devices.SetClaimToken(ctx, d.ID, []byte("h1"), clock.Now().Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.Devices.Activate(ctx, d.ID, []byte("h1"), []byte("secret"))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	got, err := s.Devices.GetByUID(ctx, "dev_a")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceStatusActive, got.Status)
	assert.Nil(t, got.ClaimTokenHash)
	assert.Nil(t, got.ClaimExpiresAt)

	ok, err = s.Devices.SetClaimToken(ctx, d.ID, []byte("h2"), clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryActivate_Expired(t *testing.T) {
	_, s, clock := newTestMemory(t)
	ctx := context.Background()
	d := createDevice(t, s, "dev_a", "u1")

	_, err := s.Devices.SetClaimToken(ctx, d.ID, []byte("h1"), clock.Now().Add(time.Minute))
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	ok, err := s.Devices.Activate(ctx, d.ID, []byte("h1"), []byte("secret"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySweepOffline_OnlyStaleOnlineDevices(t *testing.T) {
	_, s, clock := newTestMemory(t)
	ctx := context.Background()
	a := createDevice(t, s, "dev_a", "u1")
	b := createDevice(t, s, "dev_b", "u1")
	createDevice(t, s, "dev_c", "u1")

	_, err := s.Devices.MarkSeen(ctx, a.ID)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = s.Devices.MarkSeen(ctx, b.ID)
	require.NoError(t, err)

	out, err := s.Devices.SweepOffline(ctx, 20*time.Second)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "dev_a", out[0].DeviceUID)

	out, err = s.Devices.SweepOffline(ctx, 20*time.Second)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMemoryInsertDeduped_Window(t *testing.T) {
	_, s, clock := newTestMemory(t)
	ctx := context.Background()
	uid := "dev_a"
	n := domain.NewNotification{OwnerUserID: "u1", DeviceUID: &uid, Title: domain.TitleDeviceOffline, Body: "x"}

	first, err := s.Notifications.InsertDeduped(ctx, n, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	dup, err := s.Notifications.InsertDeduped(ctx, n, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, dup)

	other := "dev_b"
	n2 := n
	n2.DeviceUID = &other
	second, err := s.Notifications.InsertDeduped(ctx, n2, time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, second)

	clock.Advance(61 * time.Second)
	again, err := s.Notifications.InsertDeduped(ctx, n, time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestMemoryManifestUpsert_PreservesHiddenPair(t *testing.T) {
	m, s, _ := newTestMemory(t)
	ctx := context.Background()
	d := createDevice(t, s, "dev_a", "u1")

	require.NoError(t, s.Components.UpsertManifest(ctx, d.ID, domain.ManifestComponent{Key: "t1", Kind: "sensor", Meta: domain.Meta{"name": "t1"}}))
	n, err := s.Components.SweepStale(ctx, -time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, s.Components.UpsertManifest(ctx, d.ID, domain.ManifestComponent{Key: "t1", Kind: "sensor", Meta: domain.Meta{"name": "Temp"}}))
	c, ok := m.ComponentByKey(d.ID, "t1")
	require.True(t, ok)
	assert.True(t, c.Meta.Hidden())
	assert.Equal(t, domain.HiddenReasonStale, c.Meta.HiddenReason())
	assert.Equal(t, "Temp", c.Meta.Name())
}

func TestMemoryNotificationsList(t *testing.T) {
	_, s, _ := newTestMemory(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Notifications.Insert(ctx, domain.NewNotification{OwnerUserID: "u1", Title: "t", Body: "b"})
		require.NoError(t, err)
	}
	_, err := s.Notifications.Insert(ctx, domain.NewNotification{OwnerUserID: "u2", Title: "t", Body: "b"})
	require.NoError(t, err)
	_, err = s.Notifications.MarkRead(ctx, 5, "u1")
	require.NoError(t, err)

	page, err := s.Notifications.List(ctx, "u1", ListNotificationsQuery{Limit: 2, BeforeID: 5})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(4), page[0].ID)
	assert.Equal(t, int64(3), page[1].ID)

	unread, err := s.Notifications.List(ctx, "u1", ListNotificationsQuery{Limit: 50, UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 4)

	_, err = s.Notifications.MarkRead(ctx, 6, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}
