package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"wisefido-iotcore/internal/domain"

	"github.com/google/uuid"
)

// MemoryStore in-process implementation of every repository, used when the
// database is disabled and by tests. Each method holds the lock for its whole
// body, which gives it the same atomicity as the single-statement SQL versions.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	devices     map[string]*domain.Device // by id
	deviceByUID map[string]string

	components     map[string]*domain.Component // by id
	componentByKey map[string]string            // deviceID + "/" + key
	latest         map[string]domain.ComponentLatest

	notifications []*domain.Notification
	nextNotifID   int64

	sessions map[string]memorySession // by string(tokenHash)

	users       map[string]*domain.User
	userByEmail map[string]string
}

type memorySession struct {
	userID     string
	expiresAt  time.Time
	lastUsedAt *time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:            time.Now,
		devices:        map[string]*domain.Device{},
		deviceByUID:    map[string]string{},
		components:     map[string]*domain.Component{},
		componentByKey: map[string]string{},
		latest:         map[string]domain.ComponentLatest{},
		sessions:       map[string]memorySession{},
		users:          map[string]*domain.User{},
		userByEmail:    map[string]string{},
	}
}

// SetClock replaces the time source (tests)
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Store exposes the memory store through the repository interfaces
func (m *MemoryStore) Store() *Store {
	return &Store{
		Devices:       &memoryDevices{m},
		Components:    &memoryComponents{m},
		Notifications: &memoryNotifications{m},
		Sessions:      &memorySessions{m},
		Users:         &memoryUsers{m},
	}
}

// DeviceByUID snapshot of a device row
func (m *MemoryStore) DeviceByUID(uid string) (domain.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.deviceByUID[uid]
	if !ok {
		return domain.Device{}, false
	}
	return copyDevice(m.devices[id]), true
}

// ComponentByKey snapshot of a component row
func (m *MemoryStore) ComponentByKey(deviceID, key string) (domain.Component, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.componentByKey[componentIndex(deviceID, key)]
	if !ok {
		return domain.Component{}, false
	}
	return copyComponent(m.components[id]), true
}

// Notifications snapshot in insertion order
func (m *MemoryStore) Notifications() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		out = append(out, *n)
	}
	return out
}

func componentIndex(deviceID, key string) string {
	return deviceID + "/" + key
}

func copyDevice(d *domain.Device) domain.Device {
	out := *d
	out.ClaimTokenHash = cloneBytes(d.ClaimTokenHash)
	out.DeviceSecretHash = cloneBytes(d.DeviceSecretHash)
	return out
}

func copyComponent(c *domain.Component) domain.Component {
	out := *c
	out.Capabilities = rawOrEmpty(c.Capabilities)
	out.Meta = c.Meta.Clone()
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func timeRef(t time.Time) *time.Time {
	return &t
}

// ---- devices ----

type memoryDevices struct{ m *MemoryStore }

func (r *memoryDevices) find(uid string) *domain.Device {
	id, ok := r.m.deviceByUID[uid]
	if !ok {
		return nil
	}
	return r.m.devices[id]
}

func (r *memoryDevices) GetByUID(_ context.Context, deviceUID string) (*domain.Device, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d := r.find(deviceUID)
	if d == nil {
		return nil, ErrNotFound
	}
	out := copyDevice(d)
	return &out, nil
}

func (r *memoryDevices) GetOwned(_ context.Context, deviceUID, ownerUserID string) (*domain.Device, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d := r.find(deviceUID)
	if d == nil || d.OwnerUserID != ownerUserID {
		return nil, ErrNotFound
	}
	out := copyDevice(d)
	return &out, nil
}

func (r *memoryDevices) ListByOwner(_ context.Context, ownerUserID string) ([]domain.Device, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := []domain.Device{}
	for _, d := range r.m.devices {
		if d.OwnerUserID == ownerUserID {
			out = append(out, copyDevice(d))
		}
	}
	// last_seen_at DESC NULLS LAST, device_uid ASC
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastSeenAt, out[j].LastSeenAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].DeviceUID < out[j].DeviceUID
	})
	return out, nil
}

func (r *memoryDevices) LookupRef(_ context.Context, deviceUID string) (*domain.DeviceRef, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d := r.find(deviceUID)
	if d == nil {
		return nil, ErrNotFound
	}
	return &domain.DeviceRef{ID: d.ID, OwnerUserID: d.OwnerUserID}, nil
}

func (r *memoryDevices) OwnsDevice(_ context.Context, ownerUserID, deviceUID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d := r.find(deviceUID)
	return d != nil && d.OwnerUserID == ownerUserID, nil
}

func (r *memoryDevices) Create(_ context.Context, d *domain.Device) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.deviceByUID[d.DeviceUID]; exists {
		return ErrConflict
	}
	d.ID = uuid.NewString()
	d.CreatedAt = r.m.now()
	stored := copyDevice(d)
	r.m.devices[d.ID] = &stored
	r.m.deviceByUID[d.DeviceUID] = d.ID
	return nil
}

func (r *memoryDevices) UpdateLabels(_ context.Context, deviceUID, ownerUserID string, name, description *string) (*domain.Device, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d := r.find(deviceUID)
	if d == nil || d.OwnerUserID != ownerUserID {
		return nil, ErrNotFound
	}
	if name != nil {
		v := *name
		d.Name = &v
	}
	if description != nil {
		v := *description
		d.Description = &v
	}
	out := copyDevice(d)
	return &out, nil
}

func (r *memoryDevices) Delete(_ context.Context, deviceUID, ownerUserID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d := r.find(deviceUID)
	if d == nil || d.OwnerUserID != ownerUserID {
		return ErrNotFound
	}
	for id, c := range r.m.components {
		if c.DeviceID == d.ID {
			delete(r.m.components, id)
			delete(r.m.componentByKey, componentIndex(d.ID, c.ComponentKey))
			delete(r.m.latest, id)
		}
	}
	delete(r.m.devices, d.ID)
	delete(r.m.deviceByUID, deviceUID)
	return nil
}

func (r *memoryDevices) SetClaimToken(_ context.Context, deviceID string, hash []byte, expiresAt time.Time) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.devices[deviceID]
	if !ok || d.Status != domain.DeviceStatusUnclaimed {
		return false, nil
	}
	d.ClaimTokenHash = cloneBytes(hash)
	d.ClaimExpiresAt = timeRef(expiresAt)
	return true, nil
}

func (r *memoryDevices) Activate(_ context.Context, deviceID string, claimHash, secretHash []byte) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.devices[deviceID]
	if !ok || d.Status != domain.DeviceStatusUnclaimed {
		return false, nil
	}
	now := r.m.now()
	if d.ClaimTokenHash == nil || !bytes.Equal(d.ClaimTokenHash, claimHash) {
		return false, nil
	}
	if d.ClaimExpiresAt == nil || !d.ClaimExpiresAt.After(now) {
		return false, nil
	}
	d.Status = domain.DeviceStatusActive
	d.ClaimedAt = timeRef(now)
	d.LastSeenAt = timeRef(now)
	d.DeviceSecretHash = cloneBytes(secretHash)
	d.SecretRotatedAt = timeRef(now)
	d.ClaimTokenHash = nil
	d.ClaimExpiresAt = nil
	return true, nil
}

func (r *memoryDevices) MarkSeen(_ context.Context, deviceID string) (SeenResult, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.devices[deviceID]
	if !ok {
		return SeenResult{}, ErrNotFound
	}
	now := r.m.now()
	res := SeenResult{Transitioned: !d.IsOnline, LastSeenAt: now}
	d.IsOnline = true
	d.LastSeenAt = timeRef(now)
	return res, nil
}

func offlineDevice(d *domain.Device) OfflineDevice {
	od := OfflineDevice{DeviceUID: d.DeviceUID, OwnerUserID: d.OwnerUserID, LastSeenAt: d.LastSeenAt}
	if d.Name != nil {
		v := *d.Name
		od.Name = &v
	}
	return od
}

func (r *memoryDevices) MarkOffline(_ context.Context, deviceID string) (*OfflineDevice, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.devices[deviceID]
	if !ok || !d.IsOnline {
		return nil, nil
	}
	d.IsOnline = false
	od := offlineDevice(d)
	return &od, nil
}

func (r *memoryDevices) SweepOffline(_ context.Context, after time.Duration) ([]OfflineDevice, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cutoff := r.m.now().Add(-after)
	out := []OfflineDevice{}
	for _, d := range r.m.devices {
		if d.IsOnline && d.LastSeenAt != nil && d.LastSeenAt.Before(cutoff) {
			d.IsOnline = false
			out = append(out, offlineDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceUID < out[j].DeviceUID })
	return out, nil
}

// ---- components ----

type memoryComponents struct{ m *MemoryStore }

func (r *memoryComponents) find(deviceID, key string) *domain.Component {
	id, ok := r.m.componentByKey[componentIndex(deviceID, key)]
	if !ok {
		return nil
	}
	return r.m.components[id]
}

func (r *memoryComponents) insert(deviceID, key, kind string, caps json.RawMessage, meta domain.Meta) *domain.Component {
	c := &domain.Component{
		ID:           uuid.NewString(),
		DeviceID:     deviceID,
		ComponentKey: key,
		Kind:         kind,
		Capabilities: rawOrEmpty(caps),
		Meta:         meta,
		CreatedAt:    r.m.now(),
	}
	r.m.components[c.ID] = c
	r.m.componentByKey[componentIndex(deviceID, key)] = c.ID
	return c
}

func (r *memoryComponents) ownedDevice(deviceUID, ownerUserID string) *domain.Device {
	id, ok := r.m.deviceByUID[deviceUID]
	if !ok {
		return nil
	}
	d := r.m.devices[id]
	if d.OwnerUserID != ownerUserID {
		return nil
	}
	return d
}

func (r *memoryComponents) UpsertManifest(_ context.Context, deviceID string, mc domain.ManifestComponent) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.devices[deviceID]; !ok {
		return ErrNotFound
	}
	meta := mc.Meta.Clone()
	c := r.find(deviceID, mc.Key)
	if c == nil {
		r.insert(deviceID, mc.Key, mc.Kind, mc.Capabilities, meta)
		return nil
	}
	if v, ok := c.Meta["hidden"]; ok {
		meta["hidden"] = v
	}
	if v, ok := c.Meta["hidden_reason"]; ok {
		meta["hidden_reason"] = v
	}
	c.Kind = mc.Kind
	c.Capabilities = rawOrEmpty(mc.Capabilities)
	c.Meta = meta
	return nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func (r *memoryComponents) HideMissing(_ context.Context, deviceID string, keys []string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, c := range r.m.components {
		if c.DeviceID != deviceID || containsKey(keys, c.ComponentKey) {
			continue
		}
		if c.Meta.HiddenReason() == domain.HiddenReasonManifest {
			continue
		}
		c.Meta.Hide(domain.HiddenReasonManifest)
		n++
	}
	return n, nil
}

func (r *memoryComponents) UnhideManifest(_ context.Context, deviceID string, keys []string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, c := range r.m.components {
		if c.DeviceID != deviceID || !containsKey(keys, c.ComponentKey) {
			continue
		}
		if c.Meta.HiddenReason() != domain.HiddenReasonManifest {
			continue
		}
		c.Meta.Unhide()
		n++
	}
	return n, nil
}

func (r *memoryComponents) EnsureStub(_ context.Context, deviceID, key string) (string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.devices[deviceID]; !ok {
		return "", ErrNotFound
	}
	if c := r.find(deviceID, key); c != nil {
		return c.ID, nil
	}
	return r.insert(deviceID, key, domain.KindSensor, nil, domain.Meta{}).ID, nil
}

func (r *memoryComponents) EnsureActuator(_ context.Context, deviceID, key string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.devices[deviceID]; !ok {
		return ErrNotFound
	}
	if c := r.find(deviceID, key); c != nil {
		c.Kind = domain.KindActuator
		return nil
	}
	r.insert(deviceID, key, domain.KindActuator, nil, domain.Meta{})
	return nil
}

func (r *memoryComponents) UpsertLatest(_ context.Context, componentID string, payload json.RawMessage) (time.Time, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.components[componentID]; !ok {
		return time.Time{}, ErrNotFound
	}
	now := r.m.now()
	r.m.latest[componentID] = domain.ComponentLatest{Payload: rawOrEmpty(payload), UpdatedAt: now}
	return now, nil
}

func (r *memoryComponents) MarkSeen(_ context.Context, componentID string) (SeenResult, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.components[componentID]
	if !ok {
		return SeenResult{}, ErrNotFound
	}
	now := r.m.now()
	res := SeenResult{Transitioned: !c.IsOnline, LastSeenAt: now}
	c.IsOnline = true
	c.LastSeenAt = timeRef(now)
	return res, nil
}

func (r *memoryComponents) UnhideStale(_ context.Context, componentID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.components[componentID]
	if !ok || c.Meta.HiddenReason() != domain.HiddenReasonStale {
		return false, nil
	}
	c.Meta.Unhide()
	return true, nil
}

func (r *memoryComponents) ListByDevice(_ context.Context, deviceID string) ([]domain.Component, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := []domain.Component{}
	for _, c := range r.m.components {
		if c.DeviceID == deviceID {
			out = append(out, copyComponent(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComponentKey < out[j].ComponentKey })
	return out, nil
}

func (r *memoryComponents) ListForOwner(_ context.Context, ownerUserID string) ([]OwnedComponent, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := []OwnedComponent{}
	for _, c := range r.m.components {
		d := r.m.devices[c.DeviceID]
		if d == nil || d.OwnerUserID != ownerUserID {
			continue
		}
		out = append(out, OwnedComponent{DeviceUID: d.DeviceUID, Component: copyComponent(c)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceUID != out[j].DeviceUID {
			return out[i].DeviceUID < out[j].DeviceUID
		}
		return out[i].ComponentKey < out[j].ComponentKey
	})
	return out, nil
}

func (r *memoryComponents) LatestByDevice(_ context.Context, deviceID string) (map[string]domain.ComponentLatest, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := map[string]domain.ComponentLatest{}
	for id, l := range r.m.latest {
		c := r.m.components[id]
		if c != nil && c.DeviceID == deviceID {
			out[c.ComponentKey] = domain.ComponentLatest{Payload: rawOrEmpty(l.Payload), UpdatedAt: l.UpdatedAt}
		}
	}
	return out, nil
}

func (r *memoryComponents) UpdateMeta(_ context.Context, deviceUID, ownerUserID, key string, patch domain.ComponentPatch) (*domain.Component, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d := r.ownedDevice(deviceUID, ownerUserID)
	if d == nil {
		return nil, ErrNotFound
	}
	c := r.find(d.ID, key)
	if c == nil {
		return nil, ErrNotFound
	}
	if patch.Name != nil {
		c.Meta["name"] = *patch.Name
	}
	if patch.Hidden != nil {
		delete(c.Meta, "hidden_reason")
		c.Meta["hidden"] = *patch.Hidden
	}
	if patch.Visual != nil {
		c.Meta["visual"] = *patch.Visual
	}
	out := copyComponent(c)
	return &out, nil
}

func (r *memoryComponents) Delete(_ context.Context, deviceUID, ownerUserID, key string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d := r.ownedDevice(deviceUID, ownerUserID)
	if d == nil {
		return ErrNotFound
	}
	c := r.find(d.ID, key)
	if c == nil {
		return ErrNotFound
	}
	delete(r.m.components, c.ID)
	delete(r.m.componentByKey, componentIndex(d.ID, key))
	delete(r.m.latest, c.ID)
	return nil
}

func (r *memoryComponents) SweepOffline(_ context.Context, after time.Duration) ([]OfflineComponent, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cutoff := r.m.now().Add(-after)
	out := []OfflineComponent{}
	for _, c := range r.m.components {
		if !c.IsOnline || c.Kind != domain.KindSensor || c.LastSeenAt == nil || !c.LastSeenAt.Before(cutoff) {
			continue
		}
		d := r.m.devices[c.DeviceID]
		if d == nil {
			continue
		}
		c.IsOnline = false
		out = append(out, OfflineComponent{
			DeviceUID:    d.DeviceUID,
			OwnerUserID:  d.OwnerUserID,
			ComponentKey: c.ComponentKey,
			Meta:         c.Meta.Clone(),
			LastSeenAt:   c.LastSeenAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceUID != out[j].DeviceUID {
			return out[i].DeviceUID < out[j].DeviceUID
		}
		return out[i].ComponentKey < out[j].ComponentKey
	})
	return out, nil
}

func (r *memoryComponents) SweepStale(_ context.Context, after time.Duration) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cutoff := r.m.now().Add(-after)
	var n int64
	for _, c := range r.m.components {
		if c.Kind != domain.KindSensor || c.Meta.Hidden() {
			continue
		}
		activity := c.CreatedAt
		if c.LastSeenAt != nil {
			activity = *c.LastSeenAt
		}
		if activity.Before(cutoff) {
			c.Meta.Hide(domain.HiddenReasonStale)
			n++
		}
	}
	return n, nil
}

// ---- notifications ----

type memoryNotifications struct{ m *MemoryStore }

func sameDevice(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *memoryNotifications) insert(n domain.NewNotification) *domain.Notification {
	r.m.nextNotifID++
	out := &domain.Notification{
		ID:          r.m.nextNotifID,
		OwnerUserID: n.OwnerUserID,
		Title:       n.Title,
		Body:        n.Body,
		Type:        notificationType(n),
		CreatedAt:   r.m.now(),
	}
	if n.DeviceUID != nil {
		v := *n.DeviceUID
		out.DeviceUID = &v
	}
	r.m.notifications = append(r.m.notifications, out)
	cp := *out
	return &cp
}

func (r *memoryNotifications) Insert(_ context.Context, n domain.NewNotification) (*domain.Notification, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.insert(n), nil
}

func (r *memoryNotifications) InsertDeduped(_ context.Context, n domain.NewNotification, window time.Duration) (*domain.Notification, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cutoff := r.m.now().Add(-window)
	typ := notificationType(n)
	for _, existing := range r.m.notifications {
		if existing.OwnerUserID == n.OwnerUserID &&
			sameDevice(existing.DeviceUID, n.DeviceUID) &&
			existing.Title == n.Title &&
			existing.Type == typ &&
			existing.CreatedAt.After(cutoff) {
			return nil, nil
		}
	}
	return r.insert(n), nil
}

func (r *memoryNotifications) List(_ context.Context, ownerUserID string, q ListNotificationsQuery) ([]domain.Notification, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := []domain.Notification{}
	for i := len(r.m.notifications) - 1; i >= 0 && len(out) < q.Limit; i-- {
		n := r.m.notifications[i]
		if n.OwnerUserID != ownerUserID {
			continue
		}
		if q.UnreadOnly && n.ReadAt != nil {
			continue
		}
		if q.BeforeID > 0 && n.ID >= q.BeforeID {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

func (r *memoryNotifications) MarkRead(_ context.Context, id int64, ownerUserID string) (*domain.Notification, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, n := range r.m.notifications {
		if n.ID == id && n.OwnerUserID == ownerUserID {
			if n.ReadAt == nil {
				n.ReadAt = timeRef(r.m.now())
			}
			cp := *n
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memoryNotifications) MarkAllRead(_ context.Context, ownerUserID string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var count int64
	now := r.m.now()
	for _, n := range r.m.notifications {
		if n.OwnerUserID == ownerUserID && n.ReadAt == nil {
			n.ReadAt = timeRef(now)
			count++
		}
	}
	return count, nil
}

// ---- sessions ----

type memorySessions struct{ m *MemoryStore }

func (r *memorySessions) Create(_ context.Context, tokenHash []byte, userID string, expiresAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := string(tokenHash)
	if _, exists := r.m.sessions[key]; exists {
		return ErrConflict
	}
	r.m.sessions[key] = memorySession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (r *memorySessions) Lookup(_ context.Context, tokenHash []byte) (*domain.SessionUser, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[string(tokenHash)]
	if !ok || !s.expiresAt.After(r.m.now()) {
		return nil, ErrNotFound
	}
	u, ok := r.m.users[s.userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &domain.SessionUser{ID: u.ID, Email: u.Email}, nil
}

func (r *memorySessions) Touch(_ context.Context, tokenHash []byte) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := string(tokenHash)
	if s, ok := r.m.sessions[key]; ok {
		s.lastUsedAt = timeRef(r.m.now())
		r.m.sessions[key] = s
	}
	return nil
}

func (r *memorySessions) Delete(_ context.Context, tokenHash []byte) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.sessions, string(tokenHash))
	return nil
}

func (r *memorySessions) DeleteByUser(_ context.Context, userID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for k, s := range r.m.sessions {
		if s.userID == userID {
			delete(r.m.sessions, k)
		}
	}
	return nil
}

// ---- users ----

type memoryUsers struct{ m *MemoryStore }

func (r *memoryUsers) Create(_ context.Context, email, passwordHash string) (*domain.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.userByEmail[email]; exists {
		return nil, ErrConflict
	}
	u := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    r.m.now(),
	}
	r.m.users[u.ID] = u
	r.m.userByEmail[email] = u.ID
	cp := *u
	return &cp, nil
}

func (r *memoryUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	id, ok := r.m.userByEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.m.users[id]
	return &cp, nil
}

func (r *memoryUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memoryUsers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (r *memoryUsers) UpdateAvatar(_ context.Context, id string, avatarKey *string) (*domain.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if avatarKey == nil {
		u.AvatarKey = nil
	} else {
		v := *avatarKey
		u.AvatarKey = &v
	}
	cp := *u
	return &cp, nil
}
