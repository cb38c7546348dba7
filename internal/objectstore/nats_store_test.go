// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"strings"
	"testing"

	"github.com/book-expert/emotion-tts/internal/core"
	"github.com/book-expert/emotion-tts/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func newStore(t *testing.T) *objectstore.NatsObjectStore {
	t.Helper()

	natsServer, natsConnection := StartTestServer(t)
	t.Cleanup(natsServer.Shutdown)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "test-audio", "https://cdn.example.test/")
	require.NoError(t, err)

	return store
}

func TestNatsObjectStore_StoreDownload(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()
	audio := []byte("ID3 fake mp3 payload")

	stored, err := store.Store(ctx, core.BlobObject{
		Data:      audio,
		OwnerRef:  "user-7",
		Extension: ".mp3",
		MimeType:  "audio/mpeg",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(stored.URL, "https://cdn.example.test/test-audio/user-7/"))
	assert.True(t, strings.HasSuffix(stored.FileName, ".mp3"))
	assert.False(t, strings.Contains(stored.FileName, ".."))

	key, ok := store.KeyFromURL(stored.URL)
	require.True(t, ok)
	assert.Equal(t, "user-7/"+stored.FileName, key)

	downloaded, err := store.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, audio, downloaded)

	contentType, err := store.ContentType(key)
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", contentType)
}

func TestNatsObjectStore_StoreRejectsInvalidObjects(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	ctx := context.Background()

	_, err := store.Store(ctx, core.BlobObject{OwnerRef: "user-7", Extension: "mp3"})
	require.ErrorIs(t, err, objectstore.ErrEmptyObject)

	_, err = store.Store(ctx, core.BlobObject{Data: []byte("x"), Extension: "mp3"})
	require.ErrorIs(t, err, objectstore.ErrOwnerRefEmpty)

	_, ok := store.KeyFromURL("https://elsewhere.test/other/key")
	assert.False(t, ok)
}

func TestNew_BindsToExistingBucket(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	t.Cleanup(natsServer.Shutdown)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	_, err = objectstore.New(jetstreamContext, "shared", "https://cdn.example.test")
	require.NoError(t, err)

	_, err = objectstore.New(jetstreamContext, "shared", "https://cdn.example.test")
	require.NoError(t, err)
}
