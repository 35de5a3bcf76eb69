package cache

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-offline-core/internal/logger"
	"pos-offline-core/internal/persist"
)

// evictFraction of the memory tier is dropped, oldest first, once it grows
// past its limit.
const evictFraction = 0.2

// Memory is the first tier: a mutex-guarded map with lazy expiry. Values
// are copied on the way in and out, so callers never share cached state.
type Memory[T any] struct {
	name       string
	maxEntries int

	mu      sync.Mutex
	entries map[string]Entry[T]
	now     func() time.Time
}

func NewMemory[T any](name string, maxEntries int) *Memory[T] {
	return &Memory[T]{
		name:       name,
		maxEntries: maxEntries,
		entries:    make(map[string]Entry[T]),
		now:        time.Now,
	}
}

// Get returns a fresh entry. A stale entry is removed and reported as a miss.
func (m *Memory[T]) Get(key string) (Entry[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return e, false
	}
	if !e.Fresh(m.now()) {
		delete(m.entries, key)
		evictionsTotal.WithLabelValues(m.name, "expired").Inc()
		return e, false
	}
	return m.copyOut(key, e)
}

// Peek returns the entry without checking freshness.
func (m *Memory[T]) Peek(key string) (Entry[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return e, false
	}
	return m.copyOut(key, e)
}

// Set stores a copy of e. A value that cannot be copied is not cached.
func (m *Memory[T]) Set(key string, e Entry[T]) {
	data, err := persist.Clone(e.Data)
	if err != nil {
		logger.Log.Warn("Memory cache write skipped", zap.String("cache", m.name), zap.String("key", key), zap.Error(err))
		return
	}
	e.Data = data

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	m.cleanupLocked()
}

func (m *Memory[T]) copyOut(key string, e Entry[T]) (Entry[T], bool) {
	data, err := persist.Clone(e.Data)
	if err != nil {
		delete(m.entries, key)
		return Entry[T]{}, false
	}
	e.Data = data
	return e, true
}

func (m *Memory[T]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Entry[T])
}

func (m *Memory[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Cleanup drops expired entries and enforces the size limit.
func (m *Memory[T]) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked()
}

func (m *Memory[T]) cleanupLocked() {
	now := m.now()
	for k, e := range m.entries {
		if !e.Fresh(now) {
			delete(m.entries, k)
			evictionsTotal.WithLabelValues(m.name, "expired").Inc()
		}
	}
	if m.maxEntries <= 0 || len(m.entries) <= m.maxEntries {
		return
	}

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m.entries[keys[i]].Timestamp.Before(m.entries[keys[j]].Timestamp)
	})
	n := int(float64(len(keys)) * evictFraction)
	if n < 1 {
		n = 1
	}
	for _, k := range keys[:n] {
		delete(m.entries, k)
	}
	evictionsTotal.WithLabelValues(m.name, "size").Add(float64(n))
}
