package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "qod-provisioning", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
	require.True(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	// Disabled providers still accept operations.
	_, done := p.TrackOperation(context.Background(), "qod.registry.lookup")
	done(errors.New("boom"))

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderWithNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.False(t, p.config.Enabled)
}

func newTestProvider(t *testing.T) (*Provider, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	p, err := newWithProviders(tp, mp)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, reader, recorder
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestTrackOperation(t *testing.T) {
	p, reader, recorder := newTestProvider(t)
	ctx := context.Background()
	op := attribute.String("qod.registry.op", "provision")

	_, done := p.TrackOperation(ctx, "qod.registry.provision", op)
	time.Sleep(time.Millisecond)
	done(nil)

	_, done = p.TrackOperation(ctx, "qod.registry.provision", op)
	done(errors.New("store down"))

	metrics := collect(t, reader)

	require.Contains(t, metrics, "qod.registry.requests.total")
	require.Equal(t, int64(2), sumOf(t, metrics["qod.registry.requests.total"]))

	require.Contains(t, metrics, "qod.registry.errors.total")
	require.Equal(t, int64(1), sumOf(t, metrics["qod.registry.errors.total"]))

	require.Contains(t, metrics, "qod.registry.operations.active")
	require.Equal(t, int64(0), sumOf(t, metrics["qod.registry.operations.active"]))

	require.Contains(t, metrics, "qod.registry.request.duration")
	hist, ok := metrics["qod.registry.request.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	require.Equal(t, uint64(2), count)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "qod.registry.provision", spans[0].Name())
	require.Empty(t, spans[0].Events())
	require.NotEmpty(t, spans[1].Events(), "failed operation records an error event")
}

func TestStartSpan(t *testing.T) {
	p, _, recorder := newTestProvider(t)

	ctx, span := p.StartSpan(context.Background(), "test-span")
	require.NotNil(t, ctx)
	span.End()

	require.Len(t, recorder.Ended(), 1)
}
