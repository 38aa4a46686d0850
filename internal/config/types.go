package config

import (
	"time"

	shiperrors "shipment/internal/errors"
	"shipment/internal/observability"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

const (
	DefaultEndpoint       = "http://localhost:6565"
	DefaultClientName     = "shipment-go"
	DefaultRequestTimeout = 30 * time.Second
)

// Config holds the settings shared by the shipment commands.
type Config struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// AppName, when set, must match the app name reported by discovery.
	AppName    string `mapstructure:"app_name" yaml:"app_name"`
	ClientName string `mapstructure:"client_name" yaml:"client_name"`
	VerifyKey  string `mapstructure:"verify_key" yaml:"verify_key"`
	// GenerateVerifyKey creates a random verify key per process when none is set.
	GenerateVerifyKey bool          `mapstructure:"generate_verify_key" yaml:"generate_verify_key"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	CaptureResult     bool          `mapstructure:"capture_result" yaml:"capture_result"`
	MaxLineBytes      int           `mapstructure:"max_line_bytes" yaml:"max_line_bytes"`
	RepairPayloads    bool          `mapstructure:"repair_payloads" yaml:"repair_payloads"`

	Discovery      DiscoveryConfig        `mapstructure:"discovery" yaml:"discovery"`
	Batch          BatchConfig            `mapstructure:"batch" yaml:"batch"`
	Retry          shiperrors.RetryConfig `mapstructure:"retry" yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig   `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
	Observability  observability.Config   `mapstructure:"observability" yaml:"observability"`
}

// DiscoveryConfig controls the action table cache.
type DiscoveryConfig struct {
	CacheSize int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// BatchConfig controls `shipment batch`.
type BatchConfig struct {
	Concurrency int  `mapstructure:"concurrency" yaml:"concurrency"`
	FailFast    bool `mapstructure:"fail_fast" yaml:"fail_fast"`
}

// CircuitBreakerConfig guards an endpoint that keeps failing.
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold" yaml:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Breaker converts the settings to the breaker's own config.
func (c CircuitBreakerConfig) Breaker() shiperrors.CircuitBreakerConfig {
	cfg := shiperrors.DefaultCircuitBreakerConfig()
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.SuccessThreshold > 0 {
		cfg.SuccessThreshold = c.SuccessThreshold
	}
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	return cfg
}

// Default returns the built-in configuration.
func Default() Config {
	breaker := shiperrors.DefaultCircuitBreakerConfig()
	return Config{
		Endpoint:       DefaultEndpoint,
		ClientName:     DefaultClientName,
		RequestTimeout: DefaultRequestTimeout,
		CaptureResult:  true,
		MaxLineBytes:   16 * 1024 * 1024,
		Discovery: DiscoveryConfig{
			CacheSize: 64,
			CacheTTL:  5 * time.Minute,
		},
		Batch: BatchConfig{
			Concurrency: 4,
		},
		Retry: shiperrors.DefaultRetryConfig(),
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: breaker.FailureThreshold,
			SuccessThreshold: breaker.SuccessThreshold,
			Timeout:          breaker.Timeout,
		},
		Observability: observability.DefaultConfig(),
	}
}

// Metadata contains provenance details for loaded configuration.
type Metadata struct {
	sources  map[string]ValueSource
	file     string
	loadedAt time.Time
}

// Source returns the origin for the given configuration key, e.g. "retry.max_attempts".
func (m Metadata) Source(key string) ValueSource {
	if m.sources == nil {
		return SourceDefault
	}
	if src, ok := m.sources[key]; ok {
		return src
	}
	return SourceDefault
}

// File returns the config file that was read, if any.
func (m Metadata) File() string {
	return m.file
}

// LoadedAt returns the timestamp when the configuration was constructed.
func (m Metadata) LoadedAt() time.Time {
	return m.loadedAt
}
