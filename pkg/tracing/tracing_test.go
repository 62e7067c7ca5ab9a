package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitTracer_DisabledStillPropagates(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{ServiceName: "review"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestInitTracer_Enabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := InitTracer(context.Background(), Config{
		ServiceName:    "review",
		ServiceVersion: "test",
		Environment:    "test",
		OTLPEndpoint:   "127.0.0.1:0",
		SampleRate:     1,
		Enabled:        true,
	})
	require.NoError(t, err)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)
	_ = shutdown(context.Background())
}

func TestSampler(t *testing.T) {
	params := func() sdktrace.SamplingParameters {
		return sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: trace.TraceID{1}}
	}
	assert.Equal(t, sdktrace.RecordAndSample, sampler(1).ShouldSample(params()).Decision)
	assert.Equal(t, sdktrace.Drop, sampler(0).ShouldSample(params()).Decision)
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}
