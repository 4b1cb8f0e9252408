package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/i474232898/weather-sync/internal/metrics"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Memory is a concurrency-safe in-process cache. Concurrent misses for the
// same key share a single fetch.
type Memory[T any] struct {
	mu   sync.RWMutex
	data map[Key]entry[T]

	// maxEntries caps the map size; 0 means unbounded.
	maxEntries int

	group singleflight.Group
	now   func() time.Time
}

// NewMemory creates an empty Memory cache. If maxEntries is <= 0 the cache is
// only bounded by expiry.
func NewMemory[T any](maxEntries int) *Memory[T] {
	return &Memory[T]{
		data:       make(map[Key]entry[T]),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (m *Memory[T]) GetOrFetch(ctx context.Context, key Key, ttl time.Duration, fetch FetchFunc[T]) (T, error) {
	if v, ok := m.get(key); ok {
		metrics.CacheLookupsTotal.WithLabelValues("memory", "hit").Inc()
		return v, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("memory", "miss").Inc()

	return sharedFetch(ctx, &m.group, key.String(), func(ctx context.Context) (T, error) {
		// Another flight may have filled the entry while we waited.
		if v, ok := m.get(key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		m.set(key, v, NormalizeTTL(ttl))
		return v, nil
	})
}

func (m *Memory[T]) get(key Key) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok || !m.now().Before(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

func (m *Memory[T]) set(key Key, value T, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.data[key] = entry[T]{value: value, expiresAt: now.Add(ttl)}

	if m.maxEntries > 0 && len(m.data) > m.maxEntries {
		m.purgeLocked(now)
		for len(m.data) > m.maxEntries {
			m.evictOldestLocked()
		}
	}
}

// Purge drops expired entries and returns how many were removed.
func (m *Memory[T]) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeLocked(m.now())
}

// Len returns the number of stored entries, expired or not.
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory[T]) purgeLocked(now time.Time) int {
	removed := 0
	for k, e := range m.data {
		if !now.Before(e.expiresAt) {
			delete(m.data, k)
			removed++
		}
	}
	return removed
}

// evictOldestLocked drops the entry closest to expiry.
func (m *Memory[T]) evictOldestLocked() {
	var (
		oldestKey Key
		oldestAt  time.Time
		found     bool
	)
	for k, e := range m.data {
		if !found || e.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.expiresAt, true
		}
	}
	if found {
		delete(m.data, oldestKey)
	}
}
