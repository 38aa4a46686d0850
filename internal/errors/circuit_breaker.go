package errors

import (
	"fmt"
	"sync"
	"time"

	"shipment/internal/logging"
)

// CircuitState is the position of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

var circuitStateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// CircuitBreakerConfig controls when an endpoint breaker trips and how long
// it stays open before letting a probe through.
type CircuitBreakerConfig struct {
	FailureThreshold int                                      `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int                                      `mapstructure:"success_threshold" yaml:"success_threshold"`
	Timeout          time.Duration                            `mapstructure:"timeout" yaml:"timeout"`
	OnStateChange    func(from, to CircuitState, name string) `mapstructure:"-" yaml:"-"`
}

// DefaultCircuitBreakerConfig trips after five consecutive failures and
// probes again after thirty seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// CircuitBreaker pauses requests to an endpoint that keeps failing.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitState
	streak   int // consecutive failures while closed, successes while half-open
	openedAt time.Time
}

func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config.withDefaults(),
		logger: logging.NewComponentLogger("circuit-breaker"),
		now:    time.Now,
	}
}

// Allow returns a degraded error while the breaker is open. Once the open
// period has elapsed the breaker moves to half-open and admits requests.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	remaining := cb.config.Timeout - cb.now().Sub(cb.openedAt)
	if remaining <= 0 {
		cb.transition(StateHalfOpen)
		cb.logger.Info("[%s] probing endpoint", cb.name)
		return nil
	}
	return Degraded(fmt.Errorf("circuit breaker open for %s", cb.name),
		fmt.Sprintf("Endpoint %s is failing repeatedly; requests are paused for another %v.",
			cb.name, remaining.Round(time.Second)))
}

// Mark records the outcome of an admitted request; nil means success.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil && cb.state == StateHalfOpen:
		cb.streak++
		if cb.streak >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
			cb.logger.Info("[%s] endpoint recovered", cb.name)
		}
	case err == nil:
		cb.streak = 0
	case cb.state == StateHalfOpen:
		cb.trip()
		cb.logger.Warn("[%s] probe failed, breaker reopened", cb.name)
	case cb.state == StateClosed:
		cb.streak++
		if cb.streak >= cb.config.FailureThreshold {
			failures := cb.streak
			cb.trip()
			cb.logger.Warn("[%s] breaker opened after %d failures", cb.name, failures)
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.streak = 0
	if cb.config.OnStateChange != nil && from != to {
		go cb.config.OnStateChange(from, to, cb.name)
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
