package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/emotion-tts/internal/core"
	"github.com/nats-io/nats.go"
)

// NatsKVStore implements core.CacheStore on a NATS JetStream key-value bucket.
// Each entry is stored as JSON under its derived key.
type NatsKVStore struct {
	bucket string
	kv     nats.KeyValue
}

var _ core.CacheStore = (*NatsKVStore)(nil)

// NewNatsKVStore creates the bucket if needed and binds to it.
func NewNatsKVStore(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsKVStore, error) {
	keyValue, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Synthesized audio cache for the %s bucket.", bucketName),
		History:     1,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		// The bucket may already exist with a different configuration.
		bound, bindErr := jetstreamContext.KeyValue(bucketName)
		if bindErr != nil {
			return nil, fmt.Errorf("failed to create key-value bucket '%s': %w", bucketName, err)
		}

		keyValue = bound
	}

	return &NatsKVStore{
		bucket: bucketName,
		kv:     keyValue,
	}, nil
}

// Lookup returns the entry stored under key or core.ErrNotFound.
func (s *NatsKVStore) Lookup(_ context.Context, key string) (*core.CacheEntry, error) {
	entry, _, err := s.get(key)
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// Save creates the entry. If the key already exists the stored entry wins and is returned.
func (s *NatsKVStore) Save(ctx context.Context, entry core.CacheEntry) (*core.CacheEntry, error) {
	if entry.Key == "" {
		return nil, ErrEmptyKey
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry '%s': %w", entry.Key, err)
	}

	_, err = s.kv.Create(entry.Key, data)
	if err == nil {
		return &entry, nil
	}

	if errors.Is(err, nats.ErrKeyExists) {
		return s.Lookup(ctx, entry.Key)
	}

	return nil, fmt.Errorf("failed to put cache entry '%s' to bucket '%s': %w", entry.Key, s.bucket, err)
}

// Touch advances the last access time using an optimistic revision check.
// A concurrent writer makes Touch fail; callers treat that as best effort.
func (s *NatsKVStore) Touch(_ context.Context, key string, accessedAt time.Time) error {
	entry, revision, err := s.get(key)
	if err != nil {
		return err
	}

	if !accessedAt.After(entry.LastAccessedAt) {
		return nil
	}

	entry.LastAccessedAt = accessedAt

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry '%s': %w", key, err)
	}

	_, err = s.kv.Update(key, data, revision)
	if err != nil {
		return fmt.Errorf("failed to touch cache entry '%s': %w", key, err)
	}

	return nil
}

// FindStaleSince returns entries last accessed before threshold, oldest first.
func (s *NatsKVStore) FindStaleSince(_ context.Context, threshold time.Time) ([]core.CacheEntry, error) {
	keys, err := s.keys()
	if err != nil {
		return nil, err
	}

	var stale []core.CacheEntry

	for _, key := range keys {
		entry, _, getErr := s.get(key)
		if errors.Is(getErr, core.ErrNotFound) {
			continue
		}

		if getErr != nil {
			return nil, getErr
		}

		if entry.LastAccessedAt.Before(threshold) {
			stale = append(stale, *entry)
		}
	}

	sortByAccess(stale)

	return stale, nil
}

// Delete purges key and its history.
func (s *NatsKVStore) Delete(_ context.Context, key string) error {
	err := s.kv.Purge(key)
	if err != nil {
		return fmt.Errorf("failed to purge cache entry '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// DeleteBatch purges every key, stopping at the first failure.
func (s *NatsKVStore) DeleteBatch(ctx context.Context, keys []string) error {
	for _, key := range keys {
		err := s.Delete(ctx, key)
		if err != nil {
			return err
		}
	}

	return nil
}

// Count returns the number of live keys in the bucket.
func (s *NatsKVStore) Count(_ context.Context) (int, error) {
	keys, err := s.keys()
	if err != nil {
		return 0, err
	}

	return len(keys), nil
}

func (s *NatsKVStore) get(key string) (*core.CacheEntry, uint64, error) {
	kvEntry, err := s.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, 0, fmt.Errorf("cache entry %q: %w", key, core.ErrNotFound)
		}

		return nil, 0, fmt.Errorf("failed to get cache entry '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	var entry core.CacheEntry

	err = json.Unmarshal(kvEntry.Value(), &entry)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal cache entry '%s': %w", key, err)
	}

	return &entry, kvEntry.Revision(), nil
}

func (s *NatsKVStore) keys() ([]string, error) {
	keys, err := s.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list keys of bucket '%s': %w", s.bucket, err)
	}

	return keys, nil
}
