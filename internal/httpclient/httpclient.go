package httpclient

import (
	"net/http"
	"time"

	"shipment/internal/logging"
)

// New returns an http.Client configured for bounded request/response calls
// such as endpoint introspection.
//
// It respects HTTP(S)_PROXY/ALL_PROXY/NO_PROXY by default, but may bypass
// unreachable loopback proxies to keep local development environments working.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: Transport(logger),
	}
}

// NewStreaming returns an http.Client without a client-wide deadline.
// Action streams can stay open for as long as the remote action runs, so
// their lifetime is bounded by the request context instead. headerTimeout
// limits how long the server may take to send response headers.
func NewStreaming(headerTimeout time.Duration, logger logging.Logger) *http.Client {
	transport := Transport(logger)
	if headerTimeout > 0 {
		transport.ResponseHeaderTimeout = headerTimeout
	}
	return &http.Client{Transport: transport}
}

// Transport returns an http.Transport clone with a proxy policy suitable for
// outbound calls.
func Transport(logger logging.Logger) *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{Proxy: proxyFunc(logger)}
	}

	transport := base.Clone()
	transport.Proxy = proxyFunc(logger)
	// Response bodies are newline-delimited text; let the transport keep the
	// raw byte stream so lines are handed over as they arrive.
	transport.DisableCompression = true
	return transport
}
