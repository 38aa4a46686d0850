package observability

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"shipment/internal/id"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.False(t, config.Metrics.Enabled)
	assert.False(t, config.Tracing.Enabled)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, 1.0, config.Tracing.SampleRate)
}

func TestLoggerWithContextAddsInvocationID(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: buf})

	ctx := id.WithInvocationID(context.Background(), "inv-42")
	logger.With("component", "client").Log(ctx, slog.LevelInfo, "dispatched", "action", "to-upper")

	out := buf.String()
	assert.Contains(t, out, `"invocation_id":"inv-42"`)
	assert.Contains(t, out, `"action":"to-upper"`)
	assert.Contains(t, out, `"msg":"dispatched"`)
	assert.Contains(t, out, `"component":"client"`)
}

func TestLoggerRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(LogConfig{Level: "warn", Output: buf})

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestDisabledMetricsCollectorIsNoop(t *testing.T) {
	collector, err := NewMetricsCollector(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	collector.RecordLine(ctx, LineKindLog)
	collector.RecordInvocation(ctx, "echo", "success", time.Second)
	collector.IncrementActive(ctx)
	collector.DecrementActive(ctx)
	require.NoError(t, collector.Shutdown(ctx))

	var nilCollector *MetricsCollector
	nilCollector.RecordLine(ctx, LineKindData)
	assert.Nil(t, nilCollector.Registry())
}

func TestMetricsCollectorExportsToRegistry(t *testing.T) {
	collector, err := NewMetricsCollector(MetricsConfig{Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = collector.Shutdown(context.Background()) })

	ctx := context.Background()
	collector.RecordLine(ctx, LineKindData)
	collector.RecordLine(ctx, LineKindLog)
	collector.RecordInvocation(ctx, "echo", "success", 150*time.Millisecond)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "shipment_lines"), "expected lines metric in %s", body)
	assert.True(t, strings.Contains(body, "shipment_invocations"), "expected invocations metric in %s", body)
}

func TestDisabledTracerProviderStartsNoopSpans(t *testing.T) {
	tp, err := NewTracerProvider(TracingConfig{Enabled: false})
	require.NoError(t, err)

	ctx, span := tp.StartSpan(context.Background(), SpanClientCall, ActionAttrs("http://x", "echo")...)
	assert.NotNil(t, ctx)
	EndSpan(span, "success", nil)
	assert.Empty(t, TraceIDFromContext(ctx))
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewTracerProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewTracerProvider(TracingConfig{Enabled: true, Exporter: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestInjectExtractRoundTripsTraceContext(t *testing.T) {
	traceID := trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	header := http.Header{}
	NoopTracerProvider().Inject(ctx, header)
	require.NotEmpty(t, header.Get("traceparent"))

	extracted := Extract(context.Background(), header)
	assert.Equal(t, traceID.String(), TraceIDFromContext(extracted))
	assert.Empty(t, TraceIDFromContext(Extract(context.Background(), http.Header{})))
}
