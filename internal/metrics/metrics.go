// Package metrics holds the OpenTelemetry instruments recorded by the audio
// orchestrator.
//
// Instruments are created from a caller-supplied [metric.MeterProvider]; the
// service passes the global provider and tests pass an SDK provider backed by a
// manual reader.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/book-expert/emotion-tts"

// Outcome attribute values for cache lookups.
const (
	OutcomeHit  = "hit"
	OutcomeMiss = "miss"
	// OutcomeError is a failed lookup, which is served as a miss.
	OutcomeError = "error"
)

var synthesisBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30}

// Metrics is safe for concurrent use.
type Metrics struct {
	CacheLookups       metric.Int64Counter
	CacheWriteFailures metric.Int64Counter
	ProviderCalls      metric.Int64Counter
	ProviderErrors     metric.Int64Counter
	SynthesisDuration  metric.Float64Histogram
}

// New creates all instruments on mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	met := &Metrics{}

	var err error

	if met.CacheLookups, err = meter.Int64Counter("emotion_tts.cache.lookups",
		metric.WithDescription("Cache lookups by outcome."),
	); err != nil {
		return nil, err
	}

	if met.CacheWriteFailures, err = meter.Int64Counter("emotion_tts.cache.write_failures",
		metric.WithDescription("Cache saves that failed after a successful synthesis."),
	); err != nil {
		return nil, err
	}

	if met.ProviderCalls, err = meter.Int64Counter("emotion_tts.provider.calls",
		metric.WithDescription("Speech provider calls."),
	); err != nil {
		return nil, err
	}

	if met.ProviderErrors, err = meter.Int64Counter("emotion_tts.provider.errors",
		metric.WithDescription("Speech provider failures by class."),
	); err != nil {
		return nil, err
	}

	if met.SynthesisDuration, err = meter.Float64Histogram("emotion_tts.provider.duration",
		metric.WithDescription("Latency of speech provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(synthesisBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Noop returns instruments that record nothing.
func Noop() *Metrics {
	met, _ := New(noop.NewMeterProvider())

	return met
}

// RecordLookup counts one cache lookup with its outcome.
func (m *Metrics) RecordLookup(ctx context.Context, outcome string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordProviderCall counts one provider call and its latency. class is empty on success.
func (m *Metrics) RecordProviderCall(ctx context.Context, elapsed time.Duration, class string) {
	status := "ok"
	if class != "" {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
	}

	m.ProviderCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.SynthesisDuration.Record(ctx, elapsed.Seconds())
}

// RecordCacheWriteFailure counts one failed cache save.
func (m *Metrics) RecordCacheWriteFailure(ctx context.Context) {
	m.CacheWriteFailures.Add(ctx, 1)
}
