package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	shiperrors "shipment/internal/errors"
)

const defaultBreakerName = "shipment-endpoint"

// breakerTransport refuses requests while the endpoint's breaker is open.
// Connection failures, 5xx and 429 responses count against it; cancelled
// requests and other statuses count as healthy.
type breakerTransport struct {
	next    http.RoundTripper
	breaker *shiperrors.CircuitBreaker
}

// WithCircuitBreaker guards client's transport with a breaker named after
// the endpoint it talks to. The client is modified in place.
func WithCircuitBreaker(client *http.Client, name string, config shiperrors.CircuitBreakerConfig) *http.Client {
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	if name == "" {
		name = defaultBreakerName
	}
	client.Transport = &breakerTransport{next: next, breaker: shiperrors.NewCircuitBreaker(name, config)}
	return client
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.next.RoundTrip(req)
	t.breaker.Mark(breakerVerdict(resp, err))
	return resp, err
}

func breakerVerdict(resp *http.Response, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case err != nil:
		return err
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	return nil
}
