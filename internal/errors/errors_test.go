package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRemoteErrorObject(t *testing.T) {
	remote, err := DecodeRemoteError([]byte(`{"message":"something went wrong!","name":"TypeError","code":42}`))
	require.NoError(t, err)

	assert.Equal(t, "something went wrong!", remote.Message)
	assert.Equal(t, "TypeError", remote.Name)
	assert.Equal(t, "42", remote.Code)
	assert.JSONEq(t, `{"message":"something went wrong!","name":"TypeError","code":42}`, string(remote.Details))
	assert.Equal(t, "remote TypeError: something went wrong!", remote.Error())
}

func TestDecodeRemoteErrorStringAndScalar(t *testing.T) {
	remote, err := DecodeRemoteError([]byte(`"plain failure"`))
	require.NoError(t, err)
	assert.Equal(t, "plain failure", remote.Message)

	remote, err = DecodeRemoteError([]byte(`503`))
	require.NoError(t, err)
	assert.Equal(t, "503", remote.Message)
}

func TestDecodeRemoteErrorRejectsInvalidJSON(t *testing.T) {
	for _, payload := range []string{"", "{not json", "oops"} {
		_, err := DecodeRemoteError([]byte(payload))
		var decodeErr *ProtocolDecodeError
		require.ErrorAs(t, err, &decodeErr, "payload %q", payload)
		assert.Equal(t, payload, decodeErr.Payload)
	}
}

func TestClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
		permanent bool
	}{
		{"remote", &RemoteError{Message: "boom"}, false, true},
		{"decode", &ProtocolDecodeError{Payload: "x", Err: io.ErrUnexpectedEOF}, false, true},
		{"incomplete", &IncompleteRunError{Action: "a", Err: context.Canceled}, false, true},
		{"status 503", &StatusError{StatusCode: http.StatusServiceUnavailable}, true, false},
		{"status 429", &StatusError{StatusCode: http.StatusTooManyRequests}, true, false},
		{"status 404", &StatusError{StatusCode: http.StatusNotFound}, false, true},
		{"transport refused", &TransportError{Op: "dial", Err: errors.New("dial tcp: connection refused")}, true, false},
		{"status 408", &StatusError{StatusCode: http.StatusRequestTimeout}, true, false},
		{"wrapped transient", fmt.Errorf("wrap: %w", Transient(errors.New("x"), "")), true, false},
		{"pinned permanent", Permanent(errors.New("connection refused"), ""), false, true},
		{"cancelled", fmt.Errorf("read: %w", context.Canceled), false, true},
		{"nil", nil, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, IsTransient(tc.err))
			assert.Equal(t, tc.permanent, IsPermanent(tc.err))
		})
	}
}

func TestErrorTypesAreDistinguishable(t *testing.T) {
	statusErr := error(&StatusError{StatusCode: 500, URL: "http://x/a"})
	remoteErr := error(&RemoteError{Message: "boom"})

	var asRemote *RemoteError
	var asStatus *StatusError
	assert.False(t, errors.As(statusErr, &asRemote))
	assert.False(t, errors.As(remoteErr, &asStatus))
	assert.True(t, errors.As(statusErr, &asStatus))
}

func TestFormatForUser(t *testing.T) {
	assert.Equal(t, "Remote action failed: boom", FormatForUser(&RemoteError{Message: "boom"}))
	assert.Contains(t, FormatForUser(&StatusError{StatusCode: 404}), "HTTP 404")
	assert.Contains(t, FormatForUser(&IncompleteRunError{Action: "build"}), `"build"`)
	assert.Empty(t, FormatForUser(nil))
	assert.Equal(t, "paused", FormatForUser(Degraded(errors.New("open"), "paused")))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "transient", Classify(&StatusError{StatusCode: 502}).String())
	assert.Equal(t, "degraded", Classify(Degraded(errors.New("x"), "")).String())
	assert.Equal(t, "permanent", Classify(errors.New("x")).String())
}

func TestRetryWithResultRetriesTransientOnly(t *testing.T) {
	config := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	calls := 0
	got, err := RetryWithResult(context.Background(), config, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &StatusError{StatusCode: http.StatusBadGateway}
		}
		return "ok", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), config, func(context.Context) error {
		calls++
		return &StatusError{StatusCode: http.StatusNotFound}
	}, nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func(context.Context) error { return nil }, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})
	now := time.Unix(1000, 0)
	cb.now = func() time.Time { return now }

	require.NoError(t, cb.Allow())
	cb.Mark(errors.New("fail"))
	cb.Mark(errors.New("fail"))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	assert.True(t, IsDegraded(err))

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.Mark(nil)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	config := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, config.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, config.Backoff(1))
	assert.Equal(t, 300*time.Millisecond, config.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, config.Backoff(40))

	config.JitterFactor = 0.5
	for i := 0; i < 20; i++ {
		delay := config.Backoff(0)
		assert.GreaterOrEqual(t, delay, 50*time.Millisecond)
		assert.LessOrEqual(t, delay, 150*time.Millisecond)
	}
}
