// Package cache provides core.CacheStore implementations: an in-memory
// reference store, a NATS JetStream key-value store and a PostgreSQL store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/book-expert/emotion-tts/internal/core"
)

// ErrEmptyKey is returned when an entry without a key is saved.
var ErrEmptyKey = errors.New("cache entry key cannot be empty")

// MemoryStore is an in-process core.CacheStore. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]core.CacheEntry
}

var _ core.CacheStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]core.CacheEntry)}
}

// Lookup returns the entry for key or core.ErrNotFound.
func (m *MemoryStore) Lookup(_ context.Context, key string) (*core.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, fmt.Errorf("cache entry %q: %w", key, core.ErrNotFound)
	}

	return &entry, nil
}

// Save stores entry unless the key already exists, and returns the stored entry.
func (m *MemoryStore) Save(_ context.Context, entry core.CacheEntry) (*core.CacheEntry, error) {
	if entry.Key == "" {
		return nil, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.entries[entry.Key]
	if ok {
		return &existing, nil
	}

	m.entries[entry.Key] = entry

	return &entry, nil
}

// Touch records an access time for key. Older times never overwrite newer ones.
func (m *MemoryStore) Touch(_ context.Context, key string, accessedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("cache entry %q: %w", key, core.ErrNotFound)
	}

	if accessedAt.After(entry.LastAccessedAt) {
		entry.LastAccessedAt = accessedAt
		m.entries[key] = entry
	}

	return nil
}

// FindStaleSince returns entries last accessed before threshold, oldest first.
func (m *MemoryStore) FindStaleSince(_ context.Context, threshold time.Time) ([]core.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []core.CacheEntry

	for _, entry := range m.entries {
		if entry.LastAccessedAt.Before(threshold) {
			stale = append(stale, entry)
		}
	}

	sortByAccess(stale)

	return stale, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)

	return nil
}

// DeleteBatch removes every key in keys.
func (m *MemoryStore) DeleteBatch(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}

	return nil
}

// Count returns the number of stored entries.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries), nil
}

func sortByAccess(entries []core.CacheEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastAccessedAt.Equal(entries[j].LastAccessedAt) {
			return entries[i].Key < entries[j].Key
		}

		return entries[i].LastAccessedAt.Before(entries[j].LastAccessedAt)
	})
}
