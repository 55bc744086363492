package forecaststore

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	payload []byte
	expires time.Time
}

// Memory is an in-process Store. Entries are kept encoded so readers never
// share mutable state with writers.
type Memory struct {
	mu    sync.RWMutex
	items map[Key]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

// NewMemory creates a store whose entries expire after ttl; zero keeps them forever.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{items: make(map[Key]memoryItem), ttl: ttl, now: time.Now}
}

func (m *Memory) Put(_ context.Context, entry Entry) error {
	payload, err := encode(entry, false)
	if err != nil {
		return err
	}
	item := memoryItem{payload: payload}
	if m.ttl > 0 {
		item.expires = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[entry.Key()] = item
	return nil
}

func (m *Memory) Get(_ context.Context, key Key) (*Entry, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	if !ok || (!item.expires.IsZero() && m.now().After(item.expires)) {
		return nil, ErrNotFound
	}
	return decode(item.payload)
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *Memory) Close() error { return nil }
