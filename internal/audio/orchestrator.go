// Package audio resolves the playable audio of a journal record, either the
// user's own upload or speech synthesized from the record's emotions and
// cached by content key.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/emotion-tts/internal/cachekey"
	"github.com/book-expert/emotion-tts/internal/core"
	"github.com/book-expert/emotion-tts/internal/emotion"
	"github.com/book-expert/emotion-tts/internal/metrics"
	"github.com/book-expert/emotion-tts/internal/tts"
	speechtext "github.com/book-expert/emotion-tts/internal/tts/text"
	"github.com/book-expert/logger"
	"golang.org/x/sync/singleflight"
)

const defaultProviderTimeout = 30 * time.Second

// DefaultEmotion is used when a record has neither a confirmed nor a scored emotion.
var DefaultEmotion = emotion.Selection{Type: emotion.Joy, Percentage: 50}

// Request identifies the record whose audio is wanted.
type Request struct {
	UserRef             string
	RecordRef           string
	WantsOriginalUpload bool
	// VoiceIdentity overrides the configured default voice when set.
	VoiceIdentity string
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Records  core.RecordRepository
	Cache    core.CacheStore
	Blobs    core.BlobStore
	Provider core.SpeechSynthesizer
	Metrics  *metrics.Metrics
	Log      *logger.Logger
}

// Options configures synthesis.
type Options struct {
	DefaultVoice    string
	Format          string
	ProviderTimeout time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Orchestrator is safe for concurrent use. Concurrent misses on the same cache
// key share a single provider call.
type Orchestrator struct {
	records  core.RecordRepository
	cache    core.CacheStore
	blobs    core.BlobStore
	provider core.SpeechSynthesizer
	metrics  *metrics.Metrics
	log      *logger.Logger
	speech   *speechtext.Preprocessor

	defaultVoice    string
	format          string
	mimeType        string
	providerTimeout time.Duration
	now             func() time.Time

	inflight singleflight.Group
}

// New validates the options and wires the collaborators.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	if deps.Records == nil || deps.Cache == nil || deps.Blobs == nil || deps.Provider == nil || deps.Log == nil {
		return nil, fmt.Errorf("%w: missing collaborator", ErrConfiguration)
	}

	format := tts.NormalizeFormat(opts.Format)

	mimeType, err := tts.MimeType(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	met := deps.Metrics
	if met == nil {
		met = metrics.Noop()
	}

	timeout := opts.ProviderTimeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Orchestrator{
		records:         deps.Records,
		cache:           deps.Cache,
		blobs:           deps.Blobs,
		provider:        deps.Provider,
		metrics:         met,
		log:             deps.Log,
		speech:          speechtext.NewPreprocessor(),
		defaultVoice:    strings.TrimSpace(opts.DefaultVoice),
		format:          format,
		mimeType:        mimeType,
		providerTimeout: timeout,
		now:             clock,
	}, nil
}

// GetOrCreateAudio returns the record's uploaded audio or its synthesized speech.
// A cache hit makes no provider or blob store call; a miss makes exactly one of each.
func (o *Orchestrator) GetOrCreateAudio(ctx context.Context, req Request) (*core.AudioDescriptor, error) {
	record, err := o.authorize(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.WantsOriginalUpload {
		return uploadDescriptor(record)
	}

	return o.synthesized(ctx, req, record)
}

// authorize checks the refs and returns the record owned by the user.
func (o *Orchestrator) authorize(ctx context.Context, req Request) (*core.Record, error) {
	if strings.TrimSpace(req.UserRef) == "" {
		return nil, fmt.Errorf("%w: user reference is required", ErrValidation)
	}

	if strings.TrimSpace(req.RecordRef) == "" {
		return nil, fmt.Errorf("%w: record reference is required", ErrValidation)
	}

	exists, err := o.records.UserExists(ctx, req.UserRef)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to look up user %s: %w", ErrStorage, req.UserRef, err)
	}

	if !exists {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, req.UserRef)
	}

	record, err := o.records.FindRecord(ctx, req.RecordRef)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: record %s", ErrNotFound, req.RecordRef)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: failed to look up record %s: %w", ErrStorage, req.RecordRef, err)
	}

	if record.OwnerRef != req.UserRef {
		return nil, fmt.Errorf("%w: record %s", ErrPermission, req.RecordRef)
	}

	return record, nil
}

func uploadDescriptor(record *core.Record) (*core.AudioDescriptor, error) {
	upload := record.Upload
	if upload == nil || strings.TrimSpace(upload.Path) == "" {
		return nil, fmt.Errorf("%w: record %s", ErrNoUploadedAudio, record.ID)
	}

	return &core.AudioDescriptor{
		AudioURL:         upload.Path,
		FileName:         upload.Name,
		FileSizeBytes:    upload.SizeBytes,
		MimeType:         upload.MimeType,
		IsFromUserUpload: true,
		DurationSeconds:  upload.DurationSeconds,
	}, nil
}

// ResolveEmotions picks the confirmed selection, else the normalized top scores,
// else DefaultEmotion.
func ResolveEmotions(record *core.Record) []emotion.Selection {
	if record.ConfirmedEmotion != nil {
		return []emotion.Selection{*record.ConfirmedEmotion}
	}

	if len(record.ScoredEmotions) > 0 {
		return emotion.Selections(emotion.Normalize(record.ScoredEmotions))
	}

	return []emotion.Selection{DefaultEmotion}
}

func (o *Orchestrator) synthesized(
	ctx context.Context,
	req Request,
	record *core.Record,
) (*core.AudioDescriptor, error) {
	text := strings.TrimSpace(record.Content)
	if text == "" {
		return nil, fmt.Errorf("%w: record %s has no content to synthesize", ErrValidation, record.ID)
	}

	voice := strings.TrimSpace(req.VoiceIdentity)
	if voice == "" {
		voice = o.defaultVoice
	}

	if voice == "" {
		return nil, fmt.Errorf("%w: no voice identity requested or configured", ErrConfiguration)
	}

	tone := emotion.Synthesize(ResolveEmotions(record))

	key, err := cachekey.Derive(text, voice, tone, o.format)
	if err != nil {
		o.log.Error("Failed to derive cache key for record %s: %v", record.ID, err)

		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	entry, found := o.lookup(ctx, key)
	if found {
		return descriptorFor(entry), nil
	}

	spoken := o.speech.SpeechText(text)
	if spoken == "" {
		spoken = text
	}

	job := synthesisJob{
		key:      key,
		text:     text,
		spoken:   spoken,
		voice:    voice,
		tone:     tone,
		ownerRef: req.UserRef,
	}

	resultCh := o.inflight.DoChan(key, func() (any, error) {
		return o.synthesizeAndStore(context.WithoutCancel(ctx), job)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, ctx.Err())
	case result := <-resultCh:
		if result.Err != nil {
			return nil, result.Err
		}

		stored, ok := result.Val.(*core.CacheEntry)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected synthesis result %T", ErrSynthesis, result.Val)
		}

		return descriptorFor(stored), nil
	}
}

// lookup treats any cache read failure as a miss and touches hits best-effort.
func (o *Orchestrator) lookup(ctx context.Context, key string) (*core.CacheEntry, bool) {
	entry, err := o.cache.Lookup(ctx, key)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			o.metrics.RecordLookup(ctx, metrics.OutcomeMiss)
		} else {
			o.metrics.RecordLookup(ctx, metrics.OutcomeError)
			o.log.Warn("Cache lookup failed for key %s, treating as miss: %v", key, err)
		}

		return nil, false
	}

	o.metrics.RecordLookup(ctx, metrics.OutcomeHit)

	touchErr := o.cache.Touch(ctx, key, o.now())
	if touchErr != nil {
		o.log.Warn("Failed to update last access for cache key %s: %v", key, touchErr)
	}

	return entry, true
}

type synthesisJob struct {
	key      string
	text     string
	spoken   string
	voice    string
	tone     emotion.VoiceTone
	ownerRef string
}

// synthesizeAndStore runs once per key at a time. A cache write failure is
// logged and the synthesized audio is still returned.
func (o *Orchestrator) synthesizeAndStore(ctx context.Context, job synthesisJob) (*core.CacheEntry, error) {
	// A flight that finished between our lookup and this one already saved the entry.
	existing, err := o.cache.Lookup(ctx, job.key)
	if err == nil {
		return existing, nil
	}

	snapshot, err := cachekey.CanonicalTone(job.tone)
	if err != nil {
		o.log.Error("Failed to serialize tone for cache key %s: %v", job.key, err)

		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	audioData, err := o.callProvider(ctx, job)
	if err != nil {
		return nil, err
	}

	blob, err := o.blobs.Store(ctx, core.BlobObject{
		Data:      audioData,
		OwnerRef:  job.ownerRef,
		Extension: o.format,
		MimeType:  o.mimeType,
	})
	if err != nil {
		o.log.Error("Failed to store synthesized audio for cache key %s: %v", job.key, err)

		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	now := o.now()
	entry := core.CacheEntry{
		Key:            job.key,
		OriginalText:   job.text,
		VoiceIdentity:  job.voice,
		ToneSnapshot:   string(snapshot),
		AudioURL:       blob.URL,
		FileName:       blob.FileName,
		FileSizeBytes:  int64(len(audioData)),
		MimeType:       o.mimeType,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	saved, err := o.cache.Save(ctx, entry)
	if err != nil {
		o.metrics.RecordCacheWriteFailure(ctx)
		o.log.Error("Failed to save cache entry %s, returning uncached audio: %v", job.key, err)

		return &entry, nil
	}

	if saved.AudioURL != entry.AudioURL {
		o.log.Warn("Cache key %s was saved by another writer, audio %s is unreferenced", job.key, entry.AudioURL)

		return saved, nil
	}

	o.log.Info("Synthesized and cached audio %s for key %s", saved.FileName, job.key)

	return saved, nil
}

func (o *Orchestrator) callProvider(ctx context.Context, job synthesisJob) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	defer cancel()

	started := time.Now()

	audioData, err := o.provider.Synthesize(callCtx, core.SpeechRequest{
		Text:          job.spoken,
		VoiceIdentity: job.voice,
		Tone:          job.tone,
		Format:        o.format,
	})
	if err != nil {
		o.metrics.RecordProviderCall(ctx, time.Since(started), providerErrorClass(err))
		o.log.Error("Speech provider failed for cache key %s: %v", job.key, err)

		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	o.metrics.RecordProviderCall(ctx, time.Since(started), "")

	return audioData, nil
}

func providerErrorClass(err error) string {
	switch {
	case errors.Is(err, tts.ErrProviderAuth):
		return "auth"
	case errors.Is(err, tts.ErrProviderQuota):
		return "quota"
	case errors.Is(err, tts.ErrProviderInput):
		return "input"
	case errors.Is(err, tts.ErrProviderUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "unavailable"
	default:
		return "other"
	}
}

func descriptorFor(entry *core.CacheEntry) *core.AudioDescriptor {
	return &core.AudioDescriptor{
		AudioURL:         entry.AudioURL,
		FileName:         entry.FileName,
		FileSizeBytes:    entry.FileSizeBytes,
		MimeType:         entry.MimeType,
		IsFromUserUpload: false,
		VoiceIdentity:    entry.VoiceIdentity,
	}
}
