package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	shiperrors "shipment/internal/errors"
)

func TestCircuitBreakerRoundTripperOpensOnServerErrors(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := WithCircuitBreaker(New(time.Second, nil), "test", shiperrors.CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})

	for i := 0; i < 2; i++ {
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		_ = resp.Body.Close()
	}

	_, err := client.Get(server.URL)
	if err == nil {
		t.Fatalf("expected open breaker to reject the request")
	}
	if !shiperrors.IsDegraded(err) {
		t.Fatalf("expected degraded error, got %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected server to see 2 requests, saw %d", hits)
	}
}

func TestNewStreamingHasNoClientDeadline(t *testing.T) {
	client := NewStreaming(5*time.Second, nil)
	if client.Timeout != 0 {
		t.Fatalf("expected no client-wide timeout, got %v", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.ResponseHeaderTimeout != 5*time.Second {
		t.Fatalf("expected header timeout to be set, got %v", transport.ResponseHeaderTimeout)
	}
}
