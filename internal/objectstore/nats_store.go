// Package objectstore provides a NATS-based implementation of the BlobStore interface.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/book-expert/emotion-tts/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const headerContentType = "Content-Type"

var (
	// ErrEmptyObject is returned when there are no bytes to store.
	ErrEmptyObject = errors.New("object data cannot be empty")
	// ErrOwnerRefEmpty is returned when an object has no owner.
	ErrOwnerRefEmpty = errors.New("owner reference cannot be empty")
)

// NatsObjectStore implements core.BlobStore using NATS JetStream.
type NatsObjectStore struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	publicBaseURL    string
	store            nats.ObjectStore
}

var _ core.BlobStore = (*NatsObjectStore)(nil)

// New creates and initializes a new NatsObjectStore. Object URLs are built as
// publicBaseURL/bucket/name.
func New(jetstreamContext nats.JetStreamContext, bucketName, publicBaseURL string) (*NatsObjectStore, error) {
	// Use a "create-first" approach.
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Synthesized and uploaded audio for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})

	// If the bucket already exists, bind to it.
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) || errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			store, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
			}
		} else {
			// For any other error, fail.
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		publicBaseURL:    strings.TrimRight(publicBaseURL, "/"),
		store:            store,
	}, nil
}

// Store uploads the object under ownerRef/<uuid>.<extension> and returns its URL.
func (n *NatsObjectStore) Store(_ context.Context, object core.BlobObject) (core.StoredBlob, error) {
	if len(object.Data) == 0 {
		return core.StoredBlob{}, ErrEmptyObject
	}

	if object.OwnerRef == "" {
		return core.StoredBlob{}, ErrOwnerRefEmpty
	}

	fileName := uuid.NewString() + "." + strings.TrimPrefix(object.Extension, ".")
	key := object.OwnerRef + "/" + fileName

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nats.Header{headerContentType: []string{object.MimeType}},
		Metadata:    map[string]string{"owner": object.OwnerRef},
		Opts:        nil,
	}, bytes.NewReader(object.Data))
	if err != nil {
		return core.StoredBlob{}, fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return core.StoredBlob{
		URL:      n.URLFor(key),
		FileName: fileName,
	}, nil
}

// URLFor returns the public URL of an object key.
func (n *NatsObjectStore) URLFor(key string) string {
	return n.publicBaseURL + "/" + n.bucket + "/" + key
}

// KeyFromURL reverses URLFor. It reports false for URLs outside this bucket.
func (n *NatsObjectStore) KeyFromURL(url string) (string, bool) {
	prefix := n.publicBaseURL + "/" + n.bucket + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}

	return strings.TrimPrefix(url, prefix), true
}

// Download retrieves an object from the NATS object store.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// ContentType returns the Content-Type recorded when the object was stored.
func (n *NatsObjectStore) ContentType(key string) (string, error) {
	info, err := n.store.GetInfo(key)
	if err != nil {
		return "", fmt.Errorf("failed to get info for object '%s': %w", key, err)
	}

	return info.Headers.Get(headerContentType), nil
}
