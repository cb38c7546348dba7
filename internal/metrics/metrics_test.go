package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/book-expert/emotion-tts/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// NewTestMetrics returns Metrics backed by a manual reader for inspection.
func NewTestMetrics(t *testing.T) (*metrics.Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	met, err := metrics.New(provider)
	require.NoError(t, err)

	return met, reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()

	var resourceMetrics metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &resourceMetrics))

	var total int64

	for _, scope := range resourceMetrics.ScopeMetrics {
		for _, instrument := range scope.Metrics {
			if instrument.Name != name {
				continue
			}

			data, ok := instrument.Data.(metricdata.Sum[int64])
			require.True(t, ok)

			for _, point := range data.DataPoints {
				total += point.Value
			}
		}
	}

	return total
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	met, reader := NewTestMetrics(t)
	ctx := context.Background()

	met.RecordLookup(ctx, metrics.OutcomeHit)
	met.RecordLookup(ctx, metrics.OutcomeMiss)
	met.RecordProviderCall(ctx, 300*time.Millisecond, "")
	met.RecordProviderCall(ctx, time.Second, "quota")
	met.RecordCacheWriteFailure(ctx)

	assert.Equal(t, int64(2), sumOf(t, reader, "emotion_tts.cache.lookups"))
	assert.Equal(t, int64(2), sumOf(t, reader, "emotion_tts.provider.calls"))
	assert.Equal(t, int64(1), sumOf(t, reader, "emotion_tts.provider.errors"))
	assert.Equal(t, int64(1), sumOf(t, reader, "emotion_tts.cache.write_failures"))
}

func TestNoop(t *testing.T) {
	t.Parallel()

	met := metrics.Noop()
	require.NotNil(t, met)
	met.RecordLookup(context.Background(), metrics.OutcomeError)
}
