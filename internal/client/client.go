// Package client invokes actions on a shipment server and tracks their
// response streams.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shipment/internal/async"
	shiperrors "shipment/internal/errors"
	"shipment/internal/httpclient"
	"shipment/internal/id"
	"shipment/internal/lines"
	"shipment/internal/logging"
	"shipment/internal/observability"
	"shipment/internal/protocol"
	"shipment/internal/tracker"
)

const (
	// HeaderClient identifies the calling client to the server.
	HeaderClient = "X-Shipment-Client"
	// HeaderVerifyKey carries the key the server must prefix lifecycle lines with.
	HeaderVerifyKey = "X-Shipment-Verify-Key"
	// HeaderRequestID carries the invocation id.
	HeaderRequestID = "X-Request-ID"
	// HeaderBatchID groups the invocations of one InvokeAll call.
	HeaderBatchID = "X-Shipment-Batch-ID"

	defaultClientName     = "shipment-go"
	defaultVersion        = "dev"
	defaultRequestTimeout = 30 * time.Second
	defaultCacheSize      = 64
	defaultCacheTTL       = 5 * time.Minute
	statusSnippetBytes    = 4 << 10
)

// Config configures a Client.
type Config struct {
	// Endpoint is the server base URL, e.g. http://localhost:6565.
	Endpoint   string
	ClientName string
	Version    string
	// VerifyKey, when set, is sent with every call and expected as the
	// lifecycle prefix "SHIPMENT-<key>: ".
	VerifyKey string

	DisableResultCapture bool
	RepairPayloads       bool
	MaxLineBytes         int

	// RequestTimeout bounds discovery requests and the wait for response
	// headers of a call. Streams themselves are bounded by the context.
	RequestTimeout time.Duration

	DiscoveryCacheSize int
	DiscoveryCacheTTL  time.Duration
	Retry              shiperrors.RetryConfig

	CircuitBreakerEnabled bool
	CircuitBreaker        shiperrors.CircuitBreakerConfig
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP clients used for calls and discovery.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.streamClient = hc
			c.discoveryClient = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

// WithMetrics records invocation metrics on collector.
func WithMetrics(collector *observability.MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithTracer records spans on tp.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp
		}
	}
}

// Client calls actions on one shipment endpoint. It is safe for concurrent use.
type Client struct {
	cfg             Config
	endpoint        string
	userAgent       string
	streamClient    *http.Client
	discoveryClient *http.Client
	logger          logging.Logger
	metrics         *observability.MetricsCollector
	tracer          *observability.TracerProvider
	tables          *lru.Cache[string, tableEntry]
}

// New creates a client for cfg.Endpoint.
func New(cfg Config, opts ...Option) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("client: endpoint is required")
	}
	if cfg.ClientName == "" {
		cfg.ClientName = defaultClientName
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.DiscoveryCacheSize <= 0 {
		cfg.DiscoveryCacheSize = defaultCacheSize
	}
	if cfg.DiscoveryCacheTTL <= 0 {
		cfg.DiscoveryCacheTTL = defaultCacheTTL
	}

	tables, err := lru.New[string, tableEntry](cfg.DiscoveryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("client: discovery cache: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		endpoint:  endpoint,
		userAgent: cfg.ClientName + "/" + cfg.Version,
		logger:    logging.NewComponentLogger("shipment-client"),
		tracer:    observability.NoopTracerProvider(),
		tables:    tables,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.streamClient == nil {
		c.streamClient = httpclient.NewStreaming(cfg.RequestTimeout, c.logger)
		c.discoveryClient = httpclient.New(cfg.RequestTimeout, c.logger)
		if cfg.CircuitBreakerEnabled {
			c.streamClient = httpclient.WithCircuitBreaker(c.streamClient, "shipment-call:"+endpoint, cfg.CircuitBreaker)
			c.discoveryClient = httpclient.WithCircuitBreaker(c.discoveryClient, "shipment-discover:"+endpoint, cfg.CircuitBreaker)
		}
	}
	return c, nil
}

// Endpoint returns the normalized base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// VerifyKey returns the configured verify key, if any.
func (c *Client) VerifyKey() string {
	return c.cfg.VerifyKey
}

// URL joins the endpoint and action with exactly one slash.
func (c *Client) URL(action string) string {
	return c.endpoint + "/" + strings.TrimLeft(action, "/")
}

// CallOption customizes a single call.
type CallOption func(*tracker.Options)

// WithoutResultCapture disables capturing the root result.
func WithoutResultCapture() CallOption {
	return func(o *tracker.Options) {
		o.CaptureResult = false
	}
}

// WithDataReceiver delivers every data record to fn.
func WithDataReceiver(fn func(protocol.Record)) CallOption {
	return func(o *tracker.Options) {
		o.OnData = fn
	}
}

// WithLogReceiver delivers every log line to fn.
func WithLogReceiver(fn func(string)) CallOption {
	return func(o *tracker.Options) {
		o.OnLog = fn
	}
}

// WithLifecycle delivers lifecycle signals, including the final end signal, to fn.
func WithLifecycle(fn func(protocol.Signal)) CallOption {
	return func(o *tracker.Options) {
		o.OnLifecycle = fn
	}
}

// Call starts action with args and returns a running tracker. The request
// has been sent and the response headers received when Call returns; the
// body is consumed by a background goroutine. A nil args sends {}.
//
// Connection failures return a *errors.TransportError and non-2xx answers a
// *errors.StatusError; no tracker is created in either case. Calls are
// never retried.
func (c *Client) Call(ctx context.Context, action string, args any, opts ...CallOption) (*tracker.Tracker, error) {
	ctx, invocationID := id.EnsureInvocationID(ctx, id.NewInvocationID)
	logger := logging.FromContext(ctx, c.logger)
	url := c.URL(action)

	body, err := encodeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("encode args for %s: %w", action, err)
	}

	ctx, span := c.tracer.StartSpan(ctx, observability.SpanClientCall, observability.ActionAttrs(c.endpoint, action)...)
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		observability.EndSpan(span, "invalid_request", err)
		return nil, fmt.Errorf("build request for %s: %w", action, err)
	}
	c.setHeaders(req, invocationID)
	c.tracer.Inject(ctx, req.Header)

	started := time.Now()
	logger.Debug("Calling %s", url)
	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		err = &shiperrors.TransportError{Op: "dial", URL: url, Err: err}
		c.metrics.RecordInvocation(ctx, action, "transport_error", time.Since(started))
		observability.EndSpan(span, "transport_error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int(observability.AttrHTTPStatus, resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := httpclient.ReadSnippet(resp.Body, statusSnippetBytes)
		_ = resp.Body.Close()
		cancel()
		err = &shiperrors.StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url, Body: snippet}
		logger.Warn("Call %s rejected: %v", action, err)
		c.metrics.RecordInvocation(ctx, action, "status_error", time.Since(started))
		observability.EndSpan(span, "status_error", err)
		return nil, err
	}

	trackerOpts := tracker.Options{
		Action:         action,
		URL:            url,
		VerifyKey:      c.cfg.VerifyKey,
		CaptureResult:  !c.cfg.DisableResultCapture,
		RepairPayloads: c.cfg.RepairPayloads,
	}
	for _, opt := range opts {
		opt(&trackerOpts)
	}
	trackerOpts.Logger = logger
	trackerOpts.Metrics = c.metrics
	trackerOpts.Abort = cancel

	tr := tracker.New(trackerOpts)
	c.metrics.IncrementActive(ctx)

	go func() {
		defer cancel()
		defer func() {
			_ = resp.Body.Close()
		}()
		defer c.finishCall(ctx, span, tr, action, started)
		defer async.Recover(logger, "stream "+action, func(perr *async.PanicError) {
			tr.EndStream(perr)
		})

		reader := lines.NewReader(resp.Body, lines.Options{MaxLineBytes: c.cfg.MaxLineBytes})
		_ = tr.Run(streamCtx, reader)
	}()

	return tr, nil
}

func (c *Client) finishCall(ctx context.Context, span trace.Span, tr *tracker.Tracker, action string, started time.Time) {
	out, _ := tr.Wait(context.Background())
	c.metrics.DecrementActive(ctx)
	c.metrics.RecordInvocation(ctx, action, out.Status.String(), time.Since(started))
	observability.EndSpan(span, out.Status.String(), outcomeSpanError(out))
	logging.FromContext(ctx, c.logger).Debug("Call %s finished: %s", action, out.Status)
}

func (c *Client) setHeaders(req *http.Request, invocationID string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson, text/plain")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderClient, c.cfg.ClientName)
	req.Header.Set(HeaderRequestID, invocationID)
	if batchID := id.BatchIDFromContext(req.Context()); batchID != "" {
		req.Header.Set(HeaderBatchID, batchID)
	}
	if c.cfg.VerifyKey != "" {
		req.Header.Set(HeaderVerifyKey, c.cfg.VerifyKey)
	}
}

func encodeArgs(args any) ([]byte, error) {
	if args == nil {
		return []byte("{}"), nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		if len(bytes.TrimSpace(raw)) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("args are not valid JSON")
		}
		return raw, nil
	}
	return json.Marshal(args)
}

func outcomeSpanError(out tracker.Outcome) error {
	if out.Status == tracker.StatusSucceeded {
		return nil
	}
	return out.Err
}
