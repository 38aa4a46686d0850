package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	} else if u, err := url.Parse(c.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("endpoint %q must be an http(s) URL", c.Endpoint))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.MaxLineBytes < 0 {
		errs = append(errs, errors.New("max_line_bytes must not be negative"))
	}
	if c.Discovery.CacheSize < 0 {
		errs = append(errs, errors.New("discovery.cache_size must not be negative"))
	}
	if c.Batch.Concurrency < 0 {
		errs = append(errs, errors.New("batch.concurrency must not be negative"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.max_attempts must not be negative"))
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		errs = append(errs, errors.New("retry.jitter_factor must be between 0 and 1"))
	}

	obs := c.Observability
	switch strings.ToLower(obs.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("observability.logging.level %q is not one of debug, info, warn, error", obs.Logging.Level))
	}
	switch strings.ToLower(obs.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("observability.logging.format %q is not one of text, json", obs.Logging.Format))
	}
	if obs.Tracing.Enabled {
		switch obs.Tracing.Exporter {
		case "", "otlp", "zipkin":
		default:
			errs = append(errs, fmt.Errorf("observability.tracing.exporter %q is not one of otlp, zipkin", obs.Tracing.Exporter))
		}
	}
	if obs.Tracing.SampleRate < 0 || obs.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("observability.tracing.sample_rate must be between 0 and 1"))
	}
	if obs.Metrics.Enabled && (obs.Metrics.PrometheusPort <= 0 || obs.Metrics.PrometheusPort > 65535) {
		errs = append(errs, fmt.Errorf("observability.metrics.prometheus_port %d is out of range", obs.Metrics.PrometheusPort))
	}

	return errors.Join(errs...)
}
