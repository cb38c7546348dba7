// Package records reads users and journal records from the JetStream
// key-value buckets the journal backend writes them to.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/emotion-tts/internal/core"
	"github.com/nats-io/nats.go"
)

// ErrEmptyRef indicates a blank user or record reference.
var ErrEmptyRef = errors.New("reference cannot be empty")

// User is the document stored in the users bucket. Only its presence is used here.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// NatsKVRepository implements core.RecordRepository on two key-value buckets,
// one keyed by user reference and one keyed by record reference.
type NatsKVRepository struct {
	users   nats.KeyValue
	records nats.KeyValue
}

var _ core.RecordRepository = (*NatsKVRepository)(nil)

// NewNatsKVRepository binds to both buckets, creating them when missing.
func NewNatsKVRepository(
	jetstreamContext nats.JetStreamContext,
	usersBucket string,
	recordsBucket string,
) (*NatsKVRepository, error) {
	users, err := bindBucket(jetstreamContext, usersBucket)
	if err != nil {
		return nil, err
	}

	records, err := bindBucket(jetstreamContext, recordsBucket)
	if err != nil {
		return nil, err
	}

	return &NatsKVRepository{users: users, records: records}, nil
}

func bindBucket(jetstreamContext nats.JetStreamContext, bucketName string) (nats.KeyValue, error) {
	keyValue, err := jetstreamContext.KeyValue(bucketName)
	if err == nil {
		return keyValue, nil
	}

	if !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to bind key-value bucket '%s': %w", bucketName, err)
	}

	keyValue, err = jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  bucketName,
		Storage: nats.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create key-value bucket '%s': %w", bucketName, err)
	}

	return keyValue, nil
}

// UserExists reports whether a user document is stored under userRef.
func (r *NatsKVRepository) UserExists(_ context.Context, userRef string) (bool, error) {
	if strings.TrimSpace(userRef) == "" {
		return false, ErrEmptyRef
	}

	_, err := r.users.Get(userRef)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to get user '%s': %w", userRef, err)
	}

	return true, nil
}

// FindRecord returns the record stored under recordRef or core.ErrNotFound.
func (r *NatsKVRepository) FindRecord(_ context.Context, recordRef string) (*core.Record, error) {
	if strings.TrimSpace(recordRef) == "" {
		return nil, ErrEmptyRef
	}

	kvEntry, err := r.records.Get(recordRef)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, fmt.Errorf("record %q: %w", recordRef, core.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get record '%s': %w", recordRef, err)
	}

	var record core.Record

	err = json.Unmarshal(kvEntry.Value(), &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal record '%s': %w", recordRef, err)
	}

	if record.ID == "" {
		record.ID = recordRef
	}

	return &record, nil
}

// PutUser stores a user document.
func (r *NatsKVRepository) PutUser(_ context.Context, user User) error {
	if strings.TrimSpace(user.ID) == "" {
		return ErrEmptyRef
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user '%s': %w", user.ID, err)
	}

	_, err = r.users.Put(user.ID, data)
	if err != nil {
		return fmt.Errorf("failed to put user '%s': %w", user.ID, err)
	}

	return nil
}

// PutRecord stores a record document under its ID.
func (r *NatsKVRepository) PutRecord(_ context.Context, record core.Record) error {
	if strings.TrimSpace(record.ID) == "" {
		return ErrEmptyRef
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record '%s': %w", record.ID, err)
	}

	_, err = r.records.Put(record.ID, data)
	if err != nil {
		return fmt.Errorf("failed to put record '%s': %w", record.ID, err)
	}

	return nil
}
