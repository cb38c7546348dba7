// Package worker provides a NATS worker that answers audio requests.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/emotion-tts/internal/audio"
	"github.com/book-expert/emotion-tts/internal/core"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"
)

const (
	// replyMargin is the time a request gets beyond the provider timeout to
	// store the audio and reply.
	replyMargin = 15 * time.Second

	defaultConcurrency     = 8
	defaultProviderTimeout = 30 * time.Second
	drainPollInterval      = 10 * time.Millisecond
)

// MessageTimeout bounds the handling of one request for a provider timeout.
func MessageTimeout(providerTimeout time.Duration) time.Duration {
	if providerTimeout <= 0 {
		providerTimeout = defaultProviderTimeout
	}

	return providerTimeout + replyMargin
}

// AudioResolver produces the audio descriptor for a request.
type AudioResolver interface {
	GetOrCreateAudio(ctx context.Context, req audio.Request) (*core.AudioDescriptor, error)
}

// Options tunes how many requests are handled at once and for how long.
type Options struct {
	Concurrency     int
	ProviderTimeout time.Duration
}

// NatsWorker listens for audio requests on a NATS subject and replies to each.
// Requests are handled concurrently, at most Options.Concurrency at a time.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	resolver       AudioResolver
	log            *logger.Logger
	concurrency    int64
	slots          *semaphore.Weighted
	messageTimeout time.Duration
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	resolver AudioResolver,
	log *logger.Logger,
	opts Options,
) *NatsWorker {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		resolver:       resolver,
		log:            log,
		concurrency:    int64(concurrency),
		slots:          semaphore.NewWeighted(int64(concurrency)),
		messageTimeout: MessageTimeout(opts.ProviderTimeout),
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains the subscription
// and waits for the requests still in progress.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.dispatch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), w.messageTimeout)
	defer cancel()

	for sub.IsValid() && waitCtx.Err() == nil {
		time.Sleep(drainPollInterval)
	}

	// Holding every slot means no handler is still running.
	err = w.slots.Acquire(waitCtx, w.concurrency)
	if err != nil {
		return fmt.Errorf("requests still in progress after shutdown: %w", err)
	}

	w.slots.Release(w.concurrency)

	return nil
}

// dispatch runs on the subscription's delivery goroutine. It waits for a free
// slot and handles the message on its own goroutine.
func (w *NatsWorker) dispatch(msg *nats.Msg) {
	err := w.slots.Acquire(context.Background(), 1)
	if err != nil {
		w.log.Error("Failed to acquire a worker slot: %v", err)

		return
	}

	go func() {
		defer w.slots.Release(1)

		w.handleMessage(msg)
	}()
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.messageTimeout)
	defer cancel()

	reply := w.process(ctx, msg.Data)

	err := w.publishReplyEvent(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

// process never fails; every outcome is expressed in the reply.
func (w *NatsWorker) process(ctx context.Context, data []byte) *AudioResolvedEvent {
	event, err := parseEvent(data)
	if err != nil {
		w.log.Warn("Rejected malformed audio request: %v", err)

		return &AudioResolvedEvent{
			Header: replyHeader(events.EventHeader{}),
			Error:  &ErrorPayload{Code: CodeValidation, Message: err.Error()},
		}
	}

	descriptor, err := w.resolver.GetOrCreateAudio(ctx, audio.Request{
		UserRef:             event.Header.UserID,
		RecordRef:           event.RecordRef,
		WantsOriginalUpload: event.WantsOriginalUpload,
		VoiceIdentity:       event.VoiceIdentity,
	})
	if err != nil {
		if audio.IsClientError(err) {
			w.log.Warn("Audio request %s for record %s rejected: %v", event.Header.WorkflowID, event.RecordRef, err)
		} else {
			w.log.Error("Audio request %s for record %s failed: %v", event.Header.WorkflowID, event.RecordRef, err)
		}

		return &AudioResolvedEvent{Header: replyHeader(event.Header), Error: errorPayload(err)}
	}

	return &AudioResolvedEvent{Header: replyHeader(event.Header), Audio: descriptor}
}

// publishReplyEvent marshals and responds with the AudioResolvedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *AudioResolvedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(data []byte) (*AudioRequestedEvent, error) {
	var event AudioRequestedEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal event: %w", audio.ErrValidation, err)
	}

	return &event, nil
}

// replyHeader keeps the correlation fields of the request and stamps a new event.
func replyHeader(request events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: request.WorkflowID,
		UserID:     request.UserID,
		TenantID:   request.TenantID,
		EventID:    uuid.NewString(),
	}
}
