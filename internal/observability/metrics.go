package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Line kinds reported by RecordLine.
const (
	LineKindLifecycle = "lifecycle"
	LineKindData      = "data"
	LineKindLog       = "log"
	LineKindDropped   = "dropped"
)

// MetricsCollector manages the client-side metrics of shipment invocations.
// A nil or disabled collector accepts every call and records nothing.
type MetricsCollector struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	invocations        metric.Int64Counter
	invocationDuration metric.Float64Histogram
	invocationsActive  metric.Int64UpDownCounter
	lines              metric.Int64Counter
	discoveries        metric.Int64Counter

	server *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port" yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("shipment")

	collector := &MetricsCollector{registry: registry, provider: provider}

	if collector.invocations, err = meter.Int64Counter(
		"shipment.invocations",
		metric.WithDescription("Action invocations by final status"),
		metric.WithUnit("{invocation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create invocations counter: %w", err)
	}

	if collector.invocationDuration, err = meter.Float64Histogram(
		"shipment.invocation.duration",
		metric.WithDescription("Time from dispatch to end of stream in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create invocation duration histogram: %w", err)
	}

	if collector.invocationsActive, err = meter.Int64UpDownCounter(
		"shipment.invocations.active",
		metric.WithDescription("Invocations whose stream is still open"),
		metric.WithUnit("{invocation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create active invocations gauge: %w", err)
	}

	if collector.lines, err = meter.Int64Counter(
		"shipment.lines",
		metric.WithDescription("Received lines by classification"),
		metric.WithUnit("{line}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create lines counter: %w", err)
	}

	if collector.discoveries, err = meter.Int64Counter(
		"shipment.discoveries",
		metric.WithDescription("Endpoint introspection requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create discoveries counter: %w", err)
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// Handler serves the collector's registry in the Prometheus text format.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying Prometheus registry.
func (m *MetricsCollector) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// StartPrometheusServer starts the Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			NewLogger(LogConfig{}).Error("prometheus server error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var errs []error
	if m.server != nil {
		errs = append(errs, m.server.Shutdown(ctx))
	}
	if m.provider != nil {
		errs = append(errs, m.provider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// RecordInvocation records a finished invocation.
func (m *MetricsCollector) RecordInvocation(ctx context.Context, action, status string, duration time.Duration) {
	if m == nil || m.invocations == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	)
	m.invocations.Add(ctx, 1, attrs)
	m.invocationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordLine counts one classified line.
func (m *MetricsCollector) RecordLine(ctx context.Context, kind string) {
	if m == nil || m.lines == nil {
		return
	}
	m.lines.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDiscovery counts one introspection request.
func (m *MetricsCollector) RecordDiscovery(ctx context.Context, status string) {
	if m == nil || m.discoveries == nil {
		return
	}
	m.discoveries.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// IncrementActive marks an invocation stream as open.
func (m *MetricsCollector) IncrementActive(ctx context.Context) {
	if m == nil || m.invocationsActive == nil {
		return
	}
	m.invocationsActive.Add(ctx, 1)
}

// DecrementActive marks an invocation stream as closed.
func (m *MetricsCollector) DecrementActive(ctx context.Context) {
	if m == nil || m.invocationsActive == nil {
		return
	}
	m.invocationsActive.Add(ctx, -1)
}
