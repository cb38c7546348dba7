// Package worker_test tests the NATS worker for the emotion-tts service.
package worker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/emotion-tts/internal/audio"
	"github.com/book-expert/emotion-tts/internal/cache"
	"github.com/book-expert/emotion-tts/internal/core"
	"github.com/book-expert/emotion-tts/internal/emotion"
	"github.com/book-expert/emotion-tts/internal/objectstore"
	"github.com/book-expert/emotion-tts/internal/records"
	"github.com/book-expert/emotion-tts/internal/tts"
	"github.com/book-expert/emotion-tts/internal/worker"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "test.audio.requested"

// mockResolver returns a canned descriptor or error.
type mockResolver struct {
	descriptor *core.AudioDescriptor
	err        error
	lastReq    atomic.Pointer[audio.Request]
}

func (m *mockResolver) GetOrCreateAudio(_ context.Context, req audio.Request) (*core.AudioDescriptor, error) {
	m.lastReq.Store(&req)

	if m.err != nil {
		return nil, m.err
	}

	return m.descriptor, nil
}

func createTestNatsClient(t *testing.T) (*nats.Conn, nats.JetStreamContext) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	server := test.RunServer(&opts)
	t.Cleanup(server.Shutdown)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	return natsConnection, jetstreamContext
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

// startWorker runs the worker until the test ends and waits for the subscription.
func startWorker(t *testing.T, natsConnection *nats.Conn, resolver worker.AudioResolver) {
	t.Helper()

	workerInstance := worker.NewNatsWorker(natsConnection, testSubject, resolver, newTestLogger(t), worker.Options{
		Concurrency:     4,
		ProviderTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	require.Eventually(t, func() bool {
		return natsConnection.NumSubscriptions() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func request(t *testing.T, natsConnection *nats.Conn, event any) worker.AudioResolvedEvent {
	t.Helper()

	eventData, err := json.Marshal(event)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(testSubject, eventData, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply worker.AudioResolvedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return reply
}

// blockingResolver holds requests for one record until released.
type blockingResolver struct {
	blockedRecord string
	started       chan struct{}
	release       chan struct{}
}

func (b *blockingResolver) GetOrCreateAudio(ctx context.Context, req audio.Request) (*core.AudioDescriptor, error) {
	if req.RecordRef == b.blockedRecord {
		close(b.started)

		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &core.AudioDescriptor{AudioURL: "https://cdn.test/" + req.RecordRef + ".mp3"}, nil
}

func newRequestEvent(userRef, recordRef string) *worker.AudioRequestedEvent {
	return &worker.AudioRequestedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     userRef,
			TenantID:   "",
		},
		RecordRef:     recordRef,
		VoiceIdentity: "jinho",
	}
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	natsConnection, _ := createTestNatsClient(t)
	resolver := &mockResolver{descriptor: &core.AudioDescriptor{
		AudioURL:      "https://cdn.test/a.mp3",
		FileName:      "a.mp3",
		FileSizeBytes: 10,
		MimeType:      "audio/mpeg",
		VoiceIdentity: "jinho",
	}}
	startWorker(t, natsConnection, resolver)

	testEvent := newRequestEvent("user-1", "record-1")
	reply := request(t, natsConnection, testEvent)

	require.Nil(t, reply.Error)
	assert.Equal(t, resolver.descriptor, reply.Audio)
	assert.Equal(t, testEvent.Header.WorkflowID, reply.Header.WorkflowID)
	assert.Equal(t, "user-1", reply.Header.UserID)
	assert.NotEqual(t, testEvent.Header.EventID, reply.Header.EventID)

	sent := resolver.lastReq.Load()
	require.NotNil(t, sent)
	assert.Equal(t, audio.Request{UserRef: "user-1", RecordRef: "record-1", VoiceIdentity: "jinho"}, *sent)
}

func TestMessageHandler_SlowRequestDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	natsConnection, _ := createTestNatsClient(t)
	resolver := &blockingResolver{
		blockedRecord: "record-slow",
		started:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	startWorker(t, natsConnection, resolver)

	slowReply := make(chan worker.AudioResolvedEvent, 1)

	go func() {
		eventData, err := json.Marshal(newRequestEvent("user-1", "record-slow"))
		if err != nil {
			return
		}

		replyMsg, err := natsConnection.Request(testSubject, eventData, 5*time.Second)
		if err != nil {
			return
		}

		var reply worker.AudioResolvedEvent
		if json.Unmarshal(replyMsg.Data, &reply) == nil {
			slowReply <- reply
		}
	}()

	select {
	case <-resolver.started:
	case <-time.After(2 * time.Second):
		t.Fatal("slow request never reached the resolver")
	}

	started := time.Now()
	fast := request(t, natsConnection, newRequestEvent("user-1", "record-fast"))

	require.Nil(t, fast.Error)
	assert.Equal(t, "https://cdn.test/record-fast.mp3", fast.Audio.AudioURL)
	assert.Less(t, time.Since(started), time.Second)

	close(resolver.release)

	select {
	case reply := <-slowReply:
		require.Nil(t, reply.Error)
		assert.Equal(t, "https://cdn.test/record-slow.mp3", reply.Audio.AudioURL)
	case <-time.After(3 * time.Second):
		t.Fatal("slow request never replied")
	}
}

func TestMessageTimeout_FollowsProviderTimeout(t *testing.T) {
	t.Parallel()

	assert.Greater(t, worker.MessageTimeout(60*time.Second), 60*time.Second)
	assert.Greater(t, worker.MessageTimeout(5*time.Second), 5*time.Second)
	assert.Less(t, worker.MessageTimeout(5*time.Second), worker.MessageTimeout(60*time.Second))
	assert.Equal(t, worker.MessageTimeout(30*time.Second), worker.MessageTimeout(0))
}

func TestMessageHandler_ErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{name: "validation", err: fmt.Errorf("%w: missing", audio.ErrValidation), code: worker.CodeValidation},
		{name: "not found", err: fmt.Errorf("%w: record", audio.ErrNotFound), code: worker.CodeNotFound},
		{name: "permission", err: fmt.Errorf("%w: record", audio.ErrPermission), code: worker.CodePermissionDenied},
		{name: "no upload", err: audio.ErrNoUploadedAudio, code: worker.CodeNoUploadedAudio},
		{
			name:      "provider quota",
			err:       fmt.Errorf("%w: %w", audio.ErrSynthesis, tts.ErrProviderQuota),
			code:      worker.CodeSynthesisFailed,
			retryable: true,
		},
		{
			name: "provider auth",
			err:  fmt.Errorf("%w: %w", audio.ErrSynthesis, tts.ErrProviderAuth),
			code: worker.CodeSynthesisFailed,
		},
		{name: "storage", err: audio.ErrStorage, code: worker.CodeStorageFailed, retryable: true},
		{name: "configuration", err: audio.ErrConfiguration, code: worker.CodeConfiguration},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			natsConnection, _ := createTestNatsClient(t)
			startWorker(t, natsConnection, &mockResolver{err: testCase.err})

			reply := request(t, natsConnection, newRequestEvent("user-1", "record-1"))

			assert.Nil(t, reply.Audio)
			require.NotNil(t, reply.Error)
			assert.Equal(t, testCase.code, reply.Error.Code)
			assert.Equal(t, testCase.retryable, reply.Error.Retryable)
			assert.NotEmpty(t, reply.Error.Message)
		})
	}
}

func TestMessageHandler_MalformedEvent(t *testing.T) {
	t.Parallel()

	natsConnection, _ := createTestNatsClient(t)
	resolver := &mockResolver{}
	startWorker(t, natsConnection, resolver)

	replyMsg, err := natsConnection.Request(testSubject, []byte("{not json"), 5*time.Second)
	require.NoError(t, err)

	var reply worker.AudioResolvedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, worker.CodeValidation, reply.Error.Code)
	assert.Nil(t, resolver.lastReq.Load())
}

func TestMessageHandler_EndToEnd(t *testing.T) {
	t.Parallel()

	natsConnection, jetstreamContext := createTestNatsClient(t)
	ctx := context.Background()

	var providerCalls atomic.Int32

	provider := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		providerCalls.Add(1)
		responseWriter.Header().Set("Content-Type", "audio/mpeg")
		_, _ = responseWriter.Write([]byte("ID3-synthesized"))
	}))
	t.Cleanup(provider.Close)

	repository, err := records.NewNatsKVRepository(jetstreamContext, "USERS", "RECORDS")
	require.NoError(t, err)
	require.NoError(t, repository.PutUser(ctx, records.User{ID: "user-1"}))
	require.NoError(t, repository.PutRecord(ctx, core.Record{
		ID:               "record-1",
		OwnerRef:         "user-1",
		Content:          "오늘은 최고의 하루",
		ConfirmedEmotion: &emotion.Selection{Type: emotion.Joy, Percentage: 80},
	}))

	blobs, err := objectstore.New(jetstreamContext, "AUDIO", "https://cdn.example.test")
	require.NoError(t, err)

	cacheStore, err := cache.NewNatsKVStore(jetstreamContext, "CACHE")
	require.NoError(t, err)

	orchestrator, err := audio.New(audio.Dependencies{
		Records: repository,
		Cache:   cacheStore,
		Blobs:   blobs,
		Provider: tts.NewHTTPClient(tts.ClientConfig{
			BaseURL:      provider.URL,
			ClientID:     "id",
			ClientSecret: "secret",
			Timeout:      5 * time.Second,
		}),
		Log: newTestLogger(t),
	}, audio.Options{DefaultVoice: "nara", Format: "mp3", ProviderTimeout: 5 * time.Second})
	require.NoError(t, err)

	startWorker(t, natsConnection, orchestrator)

	first := request(t, natsConnection, newRequestEvent("user-1", "record-1"))
	require.Nil(t, first.Error)
	require.NotNil(t, first.Audio)
	assert.Equal(t, "audio/mpeg", first.Audio.MimeType)
	assert.Equal(t, int64(len("ID3-synthesized")), first.Audio.FileSizeBytes)

	second := request(t, natsConnection, newRequestEvent("user-1", "record-1"))
	require.Nil(t, second.Error)
	assert.Equal(t, first.Audio, second.Audio)
	assert.Equal(t, int32(1), providerCalls.Load())

	key, ok := blobs.KeyFromURL(first.Audio.AudioURL)
	require.True(t, ok)

	stored, err := blobs.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-synthesized"), stored)

	denied := request(t, natsConnection, newRequestEvent("user-2", "record-1"))
	require.NotNil(t, denied.Error)
	assert.Equal(t, worker.CodeNotFound, denied.Error.Code)
}
