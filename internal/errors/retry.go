package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"shipment/internal/logging"
)

// RetryConfig bounds how often and how patiently a transient failure is
// retried. MaxAttempts counts retries after the first attempt.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay    time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	JitterFactor float64       `mapstructure:"jitter_factor" yaml:"jitter_factor"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  2,
		BaseDelay:    250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.25,
	}
}

// Backoff returns the wait before retry number attempt (zero based):
// BaseDelay doubled per attempt, spread by ±JitterFactor and capped at
// MaxDelay.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	delay := c.BaseDelay
	for i := 0; i < attempt && delay < time.Duration(1<<62); i++ {
		if c.MaxDelay > 0 && delay >= c.MaxDelay {
			break
		}
		delay *= 2
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if c.JitterFactor > 0 {
		spread := float64(delay) * c.JitterFactor
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if delay < 0 {
		return c.BaseDelay
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Retry runs fn until it succeeds, fails with a non-transient error or the
// attempts run out.
func Retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error, logger logging.Logger) error {
	_, err := RetryWithResult(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, logger)
	return err
}

// RetryWithResult is Retry for functions that produce a value.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error), logger logging.Logger) (T, error) {
	logger = logging.OrNop(logger)
	var zero T

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx)
		switch {
		case err == nil:
			if attempt > 0 {
				logger.Info("Succeeded on attempt %d", attempt+1)
			}
			return result, nil
		case !IsTransient(err):
			return zero, err
		case attempt >= config.MaxAttempts:
			if config.MaxAttempts == 0 {
				return zero, err
			}
			logger.Warn("Giving up after %d attempts: %v", attempt+1, err)
			return zero, fmt.Errorf("max retries exceeded: %w", err)
		}

		delay := config.Backoff(attempt)
		logger.Debug("Attempt %d failed (%v), retrying in %v", attempt+1, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
}
