// Package telemetry sets up OpenTelemetry tracing for synapse processes.
package telemetry

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config is the `tracing` section of a synapse config file. With no
// endpoint, spans are still created (so trace context propagates to
// upstreams) but never exported.
type Config struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	SampleRatio *float64          `yaml:"sample_ratio"`
	ServiceName string            `yaml:"service_name"`
	// Required makes an exporter setup failure fatal instead of logged.
	Required bool `yaml:"required"`
}

// Init installs the global tracer provider and W3C propagator. The returned
// function flushes and stops the provider.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "synapse"
	}
	opts := []trace.TracerProviderOption{
		trace.WithResource(newResource(serviceName)),
		trace.WithSampler(parseSampler(cfg.SampleRatio)),
	}

	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		exporterOpts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithTimeout(5 * time.Second),
		}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			exporterOpts = append(exporterOpts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		switch {
		case err != nil && cfg.Required:
			return nil, err
		case err != nil:
			log.Printf("telemetry: otlp exporter disabled: %v", err)
		default:
			opts = append(opts, trace.WithBatcher(exporter))
		}
	}

	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

// newResource describes the process to the exporter. If the SDK default
// resource and ours disagree on the semconv schema, the service name is
// kept without a schema URL.
func newResource(serviceName string) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err == nil {
		return res
	}
	log.Printf("telemetry: merging resource: %v", err)
	res, err = resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(serviceName)))
	if err != nil {
		return resource.NewSchemaless(semconv.ServiceName(serviceName))
	}
	return res
}

func parseSampler(ratio *float64) trace.Sampler {
	if ratio == nil {
		return trace.ParentBased(trace.AlwaysSample())
	}
	r := *ratio
	if r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	return trace.ParentBased(trace.TraceIDRatioBased(r))
}

// HTTPMiddleware instruments inbound HTTP handlers.
func HTTPMiddleware(operation string) func(http.Handler) http.Handler {
	return otelhttp.NewMiddleware(operation)
}

// InstrumentClient wraps client's transport so outbound requests carry
// trace context. A nil client gets a fresh one.
func InstrumentClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = otelhttp.NewTransport(base)
	return client
}
