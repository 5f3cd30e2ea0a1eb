package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"wisefido-iotcore/internal/repository"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func memoryStore(c *clock) (*repository.MemoryStore, *repository.Store) {
	mem := repository.NewMemoryStore()
	mem.SetClock(c.Now)
	return mem, mem.Store()
}

type fakeProvisioner struct {
	mu    sync.Mutex
	calls [][2]string
	err   error
}

func (p *fakeProvisioner) Provision(_ context.Context, uid, secret string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, [2]string{uid, secret})
	return p.err
}

func (p *fakeProvisioner) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeCache struct {
	mu      sync.Mutex
	dropped []string
}

func (c *fakeCache) Invalidate(_ context.Context, uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = append(c.dropped, uid)
}

type fakePublisher struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
	err      error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	p.topic, p.qos, p.retained, p.payload = topic, qos, retained, payload
	return p.err
}

var errBoom = errors.New("boom")
