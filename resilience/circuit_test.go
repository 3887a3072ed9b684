package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errBackend = &Error{Kind: KindServer, StatusCode: 503}

func fail(context.Context) error    { return errBackend }
func succeed(context.Context) error { return nil }

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State() != StateClosed {
		t.Errorf("Initial state = %v, want closed", cb.State())
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.config.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cb.config.FailureThreshold)
	}
	if cb.config.RecoveryTimeout != 30*time.Second {
		t.Errorf("RecoveryTimeout = %v, want 30s", cb.config.RecoveryTimeout)
	}
	if cb.config.HalfOpenTrialCount != 1 {
		t.Errorf("HalfOpenTrialCount = %d, want 1", cb.config.HalfOpenTrialCount)
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Second,
	})

	// First 2 failures should not open
	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), fail)
		if err != errBackend {
			t.Errorf("Execute() error = %v, want %v", err, errBackend)
		}
		if cb.State() != StateClosed {
			t.Errorf("After %d failures, state = %v, want closed", i+1, cb.State())
		}
	}

	// Third failure should open
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Errorf("After 3 failures, state = %v, want open", cb.State())
	}

	// Next request should be rejected without calling op
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("Should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() when open = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_RejectionCarriesRecoveryTime(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Second,
		Now:              clock.Now,
	})

	_ = cb.Execute(context.Background(), fail)
	openedAt := clock.Now()

	clock.Advance(3 * time.Second)
	err := cb.Execute(context.Background(), succeed)

	var rErr *Error
	if !errors.As(err, &rErr) || rErr.Kind != KindCircuitOpen {
		t.Fatalf("Execute() error = %v, want KindCircuitOpen", err)
	}
	if want := openedAt.Add(10 * time.Second); !rErr.RecoveryAt.Equal(want) {
		t.Errorf("RecoveryAt = %v, want %v", rErr.RecoveryAt, want)
	}
	// Rejections are not failures
	if m := cb.Metrics(); m.Failures != 1 {
		t.Errorf("Failures = %d, want 1", m.Failures)
	}
}

// failureThreshold=3, recoveryTimeout=10s, halfOpenTrialCount=1.
func TestCircuitBreaker_TripAndRecoverScenario(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:   3,
		RecoveryTimeout:    10 * time.Second,
		HalfOpenTrialCount: 1,
		Now:                clock.Now,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}

	clock.Advance(9 * time.Second)
	var calls int
	err := cb.Execute(ctx, func(context.Context) error { calls++; return nil })
	if !errors.Is(err, ErrCircuitOpen) || calls != 0 {
		t.Fatalf("4th call within 10s: err = %v, calls = %d", err, calls)
	}

	clock.Advance(time.Second)
	if err := cb.Execute(ctx, func(context.Context) error { calls++; return nil }); err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	m := cb.Metrics()
	if m.State != StateClosed {
		t.Errorf("State = %v, want closed", m.State)
	}
	if m.Failures != 0 {
		t.Errorf("Failures = %d, want 0", m.Failures)
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		Now:              clock.Now,
	})

	_ = cb.Execute(context.Background(), fail)

	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	clock.Advance(20 * time.Millisecond)

	if cb.State() != StateHalfOpen {
		t.Errorf("State = %v, want half-open", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		Now:              clock.Now,
	})
	_ = cb.Execute(context.Background(), fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var admitted atomic.Int32

	go func() {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			admitted.Add(1)
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cb.Execute(context.Background(), func(context.Context) error {
				admitted.Add(1)
				return nil
			})
			if !errors.Is(err, ErrCircuitOpen) {
				t.Errorf("concurrent half-open call err = %v, want ErrCircuitOpen", err)
			}
		}()
	}
	wg.Wait()
	close(release)

	if got := admitted.Load(); got != 1 {
		t.Errorf("admitted = %d, want 1", got)
	}
}

func TestCircuitBreaker_RecoveryNeedsTrialCount(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold:   1,
		RecoveryTimeout:    time.Second,
		HalfOpenTrialCount: 3,
		Now:                clock.Now,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, succeed); err != nil {
			t.Fatalf("trial %d error = %v", i+1, err)
		}
		if cb.State() != StateHalfOpen {
			t.Fatalf("after %d trials state = %v, want half-open", i+1, cb.State())
		}
	}

	_ = cb.Execute(ctx, succeed)
	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_RecoveryFailure(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Second,
		Now:              clock.Now,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(10 * time.Second)

	// Failed probe should re-open the circuit with a fresh recovery window
	_ = cb.Execute(ctx, fail)
	if cb.State() != StateOpen {
		t.Errorf("State = %v, want open", cb.State())
	}

	clock.Advance(5 * time.Second)
	if cb.State() != StateOpen {
		t.Errorf("State = %v, want open until the new window elapses", cb.State())
	}
}

func TestCircuitBreaker_CancelledCallsAreNeutral(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	err := cb.Execute(context.Background(), func(context.Context) error {
		return context.Canceled
	})
	if err != context.Canceled {
		t.Fatalf("Execute() error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	_ = cb.Execute(context.Background(), func(context.Context) error {
		return &Error{Kind: KindClient, StatusCode: 404}
	})
	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	_ = cb.Execute(context.Background(), fail)

	if cb.State() != StateOpen {
		t.Fatalf("State = %v, want open", cb.State())
	}

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("After reset, state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []struct {
		from, to State
	}
	clock := newFakeClock()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		Now:              clock.Now,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, struct{ from, to State }{from, to})
		},
	})

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(20 * time.Millisecond)
	_ = cb.Execute(context.Background(), succeed)

	want := []struct{ from, to State }{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v -> %v, want %v -> %v",
				i, transitions[i].from, transitions[i].to, want[i].from, want[i].to)
		}
	}
}

func TestCircuitBreaker_SuccessForgivesOneFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Hour,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)

	if m := cb.Metrics(); m.Failures != 1 {
		t.Fatalf("Failures = %d, want 1", m.Failures)
	}

	// One more failure reaches 2, still below the threshold
	_ = cb.Execute(ctx, fail)
	if cb.State() != StateClosed {
		t.Errorf("State = %v, want closed", cb.State())
	}

	_ = cb.Execute(ctx, fail)
	if cb.State() != StateOpen {
		t.Errorf("State = %v, want open", cb.State())
	}
}

func TestCall_ReturnsResult(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	got, err := Call(context.Background(), cb, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Errorf("Call() = %q, %v; want ok, nil", got, err)
	}
}

func TestCircuitBreaker_Metrics(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 5,
	})

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)

	metrics := cb.Metrics()

	if metrics.State != StateClosed {
		t.Errorf("Metrics.State = %v, want closed", metrics.State)
	}
	if metrics.Failures != 2 {
		t.Errorf("Metrics.Failures = %d, want 2", metrics.Failures)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}
