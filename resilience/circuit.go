package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long after the last failure an open circuit
	// admits a probe.
	// Default: 30 seconds
	RecoveryTimeout time.Duration

	// HalfOpenTrialCount is the number of consecutive half-open successes
	// required to close the circuit.
	// Default: 1
	HalfOpenTrialCount int

	// OnStateChange is called when the circuit state changes.
	// It runs with the breaker lock held and must not call back into it.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: CountsAsFailure.
	IsFailure func(err error) bool

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu                sync.Mutex
	state             State
	failures          int
	halfOpenSuccesses int
	lastFailure       time.Time
	probeInFlight     bool
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.HalfOpenTrialCount <= 0 {
		config.HalfOpenTrialCount = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = CountsAsFailure
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute runs the operation through the circuit breaker.
//
// While open, Execute returns an *Error of KindCircuitOpen carrying the
// recovery time and op is not called. Rejections never count as failures.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	probe, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	err = op(ctx)
	cb.afterRequest(probe, err)
	return err
}

// Call runs fn through cb and returns its result.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenSuccesses = 0
	cb.probeInFlight = false

	if oldState != StateClosed && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, StateClosed)
	}
}

func (cb *CircuitBreaker) beforeRequest() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateOpen:
		return false, cb.openErrorLocked()
	case StateHalfOpen:
		// One probe at a time while half-open.
		if cb.probeInFlight {
			return false, cb.openErrorLocked()
		}
		cb.probeInFlight = true
		return true, nil
	}

	return false, nil
}

func (cb *CircuitBreaker) afterRequest(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probeInFlight = false
	}

	// Cancellation says nothing about the remote side.
	if KindOf(err) == KindCancelled {
		return
	}

	isFailure := cb.config.IsFailure(err)

	switch cb.state {
	case StateClosed:
		if isFailure {
			cb.failures++
			cb.lastFailure = cb.config.Now()
			if cb.failures >= cb.config.FailureThreshold {
				cb.setStateLocked(StateOpen)
			}
		} else if cb.failures > 0 {
			// One success forgives one failure.
			cb.failures--
		}

	case StateHalfOpen:
		if !probe {
			return
		}
		if isFailure {
			cb.lastFailure = cb.config.Now()
			cb.halfOpenSuccesses = 0
			cb.setStateLocked(StateOpen)
			return
		}
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.config.HalfOpenTrialCount {
			cb.failures = 0
			cb.halfOpenSuccesses = 0
			cb.setStateLocked(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && !cb.config.Now().Before(cb.recoveryAtLocked()) {
		cb.halfOpenSuccesses = 0
		cb.probeInFlight = false
		cb.setStateLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) recoveryAtLocked() time.Time {
	return cb.lastFailure.Add(cb.config.RecoveryTimeout)
}

func (cb *CircuitBreaker) openErrorLocked() error {
	return &Error{
		Kind:       KindCircuitOpen,
		RecoveryAt: cb.recoveryAtLocked(),
		Message:    "circuit breaker is open",
	}
}

func (cb *CircuitBreaker) setStateLocked(state State) {
	old := cb.state
	cb.state = state
	if old != state && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(old, state)
	}
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	m := CircuitBreakerMetrics{
		State:             cb.currentStateLocked(),
		Failures:          cb.failures,
		HalfOpenSuccesses: cb.halfOpenSuccesses,
		LastFailure:       cb.lastFailure,
	}
	if m.State == StateOpen {
		m.RecoveryAt = cb.recoveryAtLocked()
	}
	return m
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State             State
	Failures          int
	HalfOpenSuccesses int
	LastFailure       time.Time
	RecoveryAt        time.Time
}
