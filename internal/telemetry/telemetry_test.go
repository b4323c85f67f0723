package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func sampleDecision(s sdktrace.Sampler) sdktrace.SamplingDecision {
	return s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       oteltrace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Name:          "telemetry-test",
	}).Decision
}

func ratio(f float64) *float64 { return &f }

func TestParseSampler(t *testing.T) {
	assert.Equal(t, sdktrace.RecordAndSample, sampleDecision(parseSampler(nil)))
	assert.Equal(t, sdktrace.RecordAndSample, sampleDecision(parseSampler(ratio(2))))
	assert.Equal(t, sdktrace.Drop, sampleDecision(parseSampler(ratio(0))))
	assert.Equal(t, sdktrace.Drop, sampleDecision(parseSampler(ratio(-1))))
}

func TestNewResourceCarriesServiceName(t *testing.T) {
	res := newResource("synapse-test")
	v, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "synapse-test", v.AsString())
}

func TestInitWithoutEndpointPropagatesTraceContext(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "synapse-test"})
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	var traceparent string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
	}))
	defer upstream.Close()

	ctx, span := otel.Tracer("test").Start(context.Background(), "outer")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstream.URL, nil)
	require.NoError(t, err)
	resp, err := InstrumentClient(nil).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	span.End()

	assert.NotEmpty(t, traceparent)
	assert.Contains(t, traceparent, span.SpanContext().TraceID().String())
}
