package events

import (
	"sync"

	"wisefido-iotcore/internal/domain"
)

// Recorder keeps every event in memory, in arrival order. Used by tests and
// handy when debugging handlers without a live hub.
type Recorder struct {
	mu     sync.Mutex
	frames []any
}

func (r *Recorder) add(v any) {
	r.mu.Lock()
	r.frames = append(r.frames, v)
	r.mu.Unlock()
}

func (r *Recorder) DeviceStatus(ev DeviceStatus)       { r.add(ev) }
func (r *Recorder) ComponentStatus(ev ComponentStatus) { r.add(ev) }
func (r *Recorder) ComponentLatest(ev ComponentLatest) { r.add(ev) }
func (r *Recorder) Notification(n domain.Notification) { r.add(n) }

// All returns a copy of everything recorded
func (r *Recorder) All() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.frames...)
}

// Reset forgets recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

func (r *Recorder) DeviceStatuses() []DeviceStatus {
	var out []DeviceStatus
	for _, f := range r.All() {
		if ev, ok := f.(DeviceStatus); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) ComponentStatuses() []ComponentStatus {
	var out []ComponentStatus
	for _, f := range r.All() {
		if ev, ok := f.(ComponentStatus); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) ComponentLatests() []ComponentLatest {
	var out []ComponentLatest
	for _, f := range r.All() {
		if ev, ok := f.(ComponentLatest); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) Notifications() []domain.Notification {
	var out []domain.Notification
	for _, f := range r.All() {
		if n, ok := f.(domain.Notification); ok {
			out = append(out, n)
		}
	}
	return out
}
