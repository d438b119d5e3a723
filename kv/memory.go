package kv

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory implements [Store] with an in-process map. It is the fallback for
// deployments without Redis and is not suitable for horizontally scaled
// services: counters and one-time codes are only visible inside one process.
//
// Expired entries are dropped lazily on access and by the janitor sweep,
// so memory stays bounded even for keys that are never read again.
type Memory struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]memoryEntry

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMemory creates an empty in-memory store. Call [Memory.StartJanitor]
// to enable background sweeping, and [Memory.Close] when done with it.
func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		clock:   clock,
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// StartJanitor launches the background sweep loop. It must be called at
// most once.
func (m *Memory) StartJanitor(interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	go func() {
		defer close(m.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				m.sweep()
			case <-m.stop:
				return
			}
		}
	}()
}

// Close stops the janitor, if running. Safe to call more than once.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) sweep() int {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// live returns the entry at key if present and unexpired. Expired entries
// are removed on the spot. Caller must hold m.mu.
func (m *Memory) live(key string) (memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(m.clock.Now()) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (m *Memory) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.clock.Now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}

func (m *Memory) GetAndDelete(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	delete(m.entries, key)
	return entry.value, nil
}

func (m *Memory) IncrementWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok {
		// First hit opens the window.
		fresh := memoryEntry{value: "1"}
		if ttl > 0 {
			fresh.expiresAt = m.clock.Now().Add(ttl)
		}
		m.entries[key] = fresh
		return 1, nil
	}

	count, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		count = 0
	}
	count++
	entry.value = strconv.FormatInt(count, 10)
	m.entries[key] = entry
	return count, nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.live(key)
	if !ok || entry.expiresAt.IsZero() {
		return 0, ErrNotFound
	}
	return entry.expiresAt.Sub(m.clock.Now()), nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}
