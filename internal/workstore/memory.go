package workstore

import (
	"bytes"
	"context"
	"sync"
)

// Memory is an in-process Store. It backs tests and dry runs.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
	hub    *hub
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string][]byte),
		hub:    newHub(),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Get(_ context.Context, keys ...string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.values[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, values map[string][]byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	var changes []Change
	for k, v := range values {
		old, existed := m.values[k]
		if existed && bytes.Equal(old, v) {
			continue
		}
		nv := append([]byte(nil), v...)
		m.values[k] = nv
		c := Change{Key: k, NewValue: nv}
		if existed {
			c.OldValue = old
		}
		changes = append(changes, c)
	}
	m.mu.Unlock()

	m.hub.publish(changes)
	return nil
}

func (m *Memory) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	var changes []Change
	for _, k := range keys {
		if old, ok := m.values[k]; ok {
			delete(m.values, k)
			changes = append(changes, Change{Key: k, OldValue: old})
		}
	}
	m.mu.Unlock()

	m.hub.publish(changes)
	return nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan Change, error) {
	return m.hub.subscribe(ctx)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.close()
	return nil
}
