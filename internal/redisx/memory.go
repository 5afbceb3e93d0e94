package redisx

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Cache with per-key expiry, used when no Redis
// address is configured.
type Memory struct {
	mu   sync.Mutex
	vals map[string]memEntry
	now  func() time.Time
}

type memEntry struct {
	val string
	exp time.Time
}

var _ Cache = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{vals: map[string]memEntry{}, now: time.Now}
}

func (m *Memory) getLocked(key string) (string, bool) {
	e, ok := m.vals[key]
	if !ok {
		return "", false
	}
	if !e.exp.IsZero() && !m.now().Before(e.exp) {
		delete(m.vals, key)
		return "", false
	}
	return e.val, true
}

func (m *Memory) setLocked(key, value string, ttl time.Duration) {
	e := memEntry{val: value}
	if ttl > 0 {
		e.exp = m.now().Add(ttl)
	}
	m.vals[key] = e
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.getLocked(key); ok {
		return v, nil
	}
	return "", ErrMiss
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl)
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.getLocked(key); ok {
		return false, nil
	}
	m.setLocked(key, value, ttl)
	return true, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.vals, k)
	}
	return nil
}
