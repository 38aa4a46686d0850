package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"shipment/internal/id"
)

const tracerName = "shipment"

// TracingConfig selects the span exporter and sampling for invocations.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter       string  `mapstructure:"exporter" yaml:"exporter"` // otlp, zipkin
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `mapstructure:"zipkin_endpoint" yaml:"zipkin_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate" yaml:"sample_rate"` // 0.0 to 1.0
	ServiceName    string  `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string  `mapstructure:"service_version" yaml:"service_version"`
}

var spanExporters = map[string]func(TracingConfig) (sdktrace.SpanExporter, error){
	"otlp": func(config TracingConfig) (sdktrace.SpanExporter, error) {
		endpoint := config.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		return otlptracehttp.New(context.Background(), otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	},
	"zipkin": func(config TracingConfig) (sdktrace.SpanExporter, error) {
		endpoint := config.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		return zipkin.New(endpoint)
	},
}

// TracerProvider starts invocation spans and propagates their context to
// the server.
type TracerProvider struct {
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NoopTracerProvider returns a provider whose spans are discarded.
func NoopTracerProvider() *TracerProvider {
	return &TracerProvider{
		tracer:     noop.NewTracerProvider().Tracer(tracerName),
		propagator: propagation.TraceContext{},
	}
}

func NewTracerProvider(config TracingConfig) (*TracerProvider, error) {
	if !config.Enabled {
		return NoopTracerProvider(), nil
	}
	if config.Exporter == "" {
		config.Exporter = "otlp"
	}
	if config.ServiceName == "" {
		config.ServiceName = tracerName
	}
	if config.SampleRate <= 0 || config.SampleRate > 1.0 {
		config.SampleRate = 1.0
	}

	newExporter, ok := spanExporters[config.Exporter]
	if !ok {
		return nil, fmt.Errorf("unsupported exporter: %s", config.Exporter)
	}
	exporter, err := newExporter(config)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", config.Exporter, err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	)
	return &TracerProvider{
		provider:   provider,
		tracer:     provider.Tracer(tracerName),
		propagator: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// StartSpan starts a span tagged with the invocation id carried by ctx.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tp == nil || tp.tracer == nil {
		return noop.NewTracerProvider().Tracer(tracerName).Start(ctx, name)
	}
	if invocationID := id.InvocationIDFromContext(ctx); invocationID != "" {
		attrs = append(attrs, attribute.String(AttrInvocationID, invocationID))
	}
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Inject writes the span context of ctx into outgoing request headers.
func (tp *TracerProvider) Inject(ctx context.Context, header http.Header) {
	if tp == nil || tp.propagator == nil {
		return
	}
	tp.propagator.Inject(ctx, propagation.HeaderCarrier(header))
}

// Extract returns ctx carrying the remote span context found in header.
func Extract(ctx context.Context, header http.Header) context.Context {
	return propagation.TraceContext{}.Extract(ctx, propagation.HeaderCarrier(header))
}

// EndSpan records the outcome on span and ends it.
func EndSpan(span trace.Span, status string, err error) {
	if status != "" {
		span.SetAttributes(attribute.String(AttrStatus, status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

const (
	SpanClientCall     = "shipment.client.call"
	SpanClientDiscover = "shipment.client.discover"
	SpanFixtureAction  = "shipment.fixture.action"
)

const (
	AttrInvocationID = "shipment.invocation_id"
	AttrAction       = "shipment.action"
	AttrEndpoint     = "shipment.endpoint"
	AttrStatus       = "shipment.status"
	AttrHTTPStatus   = "http.response.status_code"
)

func ActionAttrs(endpoint, action string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrEndpoint, endpoint)}
	if action != "" {
		attrs = append(attrs, attribute.String(AttrAction, action))
	}
	return attrs
}
