package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})

	if rl.config.Limit != 100 {
		t.Errorf("Limit = %d, want 100", rl.config.Limit)
	}
	if rl.config.Window != time.Minute {
		t.Errorf("Window = %v, want 1m", rl.config.Window)
	}
	if rl.config.Burst != 100 {
		t.Errorf("Burst = %d, want 100", rl.config.Burst)
	}
	if rl.config.MaxWait != time.Second {
		t.Errorf("MaxWait = %v, want 1s", rl.config.MaxWait)
	}
}

func TestNewRateLimiter_ClampsMaxWait(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxWait: time.Minute})
	if rl.config.MaxWait != time.Second {
		t.Errorf("MaxWait = %v, want 1s", rl.config.MaxWait)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{
		Limit:  10,
		Window: time.Second,
		Burst:  5,
		Now:    clock.Now,
	})

	// Should allow burst
	for i := 0; i < 5; i++ {
		if !rl.Allow() {
			t.Errorf("Allow() = false on attempt %d, want true", i)
		}
	}

	// Should deny after burst
	if rl.Allow() {
		t.Error("Allow() = true after burst exhausted, want false")
	}
}

func TestRateLimiter_AcquireDoesNotDeductOnFailure(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{
		Limit:  10,
		Window: time.Second,
		Burst:  5,
		Now:    clock.Now,
	})

	if !rl.Acquire(3) {
		t.Fatal("Acquire(3) = false, want true")
	}
	if rl.Acquire(3) {
		t.Fatal("Acquire(3) = true with 2 tokens, want false")
	}
	if got := rl.Tokens(); got != 2 {
		t.Errorf("Tokens() = %v, want 2", got)
	}
	if !rl.Acquire(2) {
		t.Error("Acquire(2) = false, want true")
	}
}

// capacity=5, burst=5, empty bucket, one full refill window.
func TestRateLimiter_RefillScenario(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{
		Limit:  5,
		Window: 10 * time.Second,
		Burst:  5,
		Now:    clock.Now,
	})

	// Empty the bucket
	if !rl.Acquire(5) {
		t.Fatal("initial Acquire(5) = false")
	}

	clock.Advance(10 * time.Second)

	if !rl.Acquire(5) {
		t.Error("Acquire(5) after one window = false, want true")
	}
	if rl.Acquire(1) {
		t.Error("Acquire(1) right after = true, want false")
	}
}

func TestRateLimiter_TokensNeverExceedBurst(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{
		Limit:  100,
		Window: time.Second,
		Burst:  5,
		Now:    clock.Now,
	})

	clock.Advance(time.Hour)

	if got := rl.Tokens(); got != 5 {
		t.Errorf("Tokens() = %v, want 5", got)
	}

	granted := 0
	for i := 0; i < 20; i++ {
		if rl.Acquire(1) {
			granted++
		}
	}
	if granted != 5 {
		t.Errorf("granted = %d, want 5", granted)
	}
}

func TestRateLimiter_ConcurrentAcquireConservation(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{
		Limit:  10,
		Window: time.Hour,
		Burst:  10,
		Now:    clock.Now,
	})

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Acquire(1) {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != 10 {
		t.Errorf("granted = %d, want 10", got)
	}
}

func TestRateLimiter_WaitForToken(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Limit:  1000, // 1 per ms
		Window: time.Second,
		Burst:  1,
	})

	rl.Allow()

	waited, err := rl.WaitForToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("WaitForToken() error = %v", err)
	}
	if waited <= 0 {
		t.Errorf("waited = %v, want > 0", waited)
	}
}

func TestRateLimiter_WaitForToken_Cancelled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Limit:  1,
		Window: time.Hour,
		Burst:  1,
	})
	rl.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := rl.WaitForToken(ctx, 1)
	if KindOf(err) != KindCancelled {
		t.Errorf("WaitForToken() error kind = %v, want cancelled", KindOf(err))
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForToken() error = %v, want wrapping context.Canceled", err)
	}
}

func TestRateLimiter_WaitForToken_ExceedsBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Burst: 2})

	_, err := rl.WaitForToken(context.Background(), 3)
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("WaitForToken(3) error = %v, want ErrRateLimitExceeded", err)
	}
}

func TestRateLimiter_Execute_NoWait(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{
		Limit:  1,
		Window: time.Hour,
		Burst:  1,
		Now:    clock.Now,
	})

	called := 0
	op := func(context.Context) error { called++; return nil }

	if err := rl.Execute(context.Background(), false, op); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	err := rl.Execute(context.Background(), false, op)
	if KindOf(err) != KindRateLimited {
		t.Errorf("second Execute() kind = %v, want rate_limited", KindOf(err))
	}
	if called != 1 {
		t.Errorf("called = %d, want 1", called)
	}
}

func TestRateLimiter_UpdateFromServerHint(t *testing.T) {
	tests := []struct {
		name     string
		adaptive bool
		hints    []string
		want     float64
	}{
		{"non-adaptive ignores hints", false, []string{"10"}, 100},
		{"lower hint lowers limit", true, []string{"80"}, 80},
		{"floored at half the base", true, []string{"1"}, 50},
		{"hint at base restores", true, []string{"60", "100"}, 100},
		{"hint above base restores", true, []string{"60", "500"}, 100},
		{"garbage ignored", true, []string{"70", "abc"}, 70},
		{"zero ignored", true, []string{"0"}, 100},
		{"whitespace tolerated", true, []string{" 90 "}, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(RateLimiterConfig{
				Limit:    100,
				Window:   time.Minute,
				Adaptive: tt.adaptive,
			})
			for _, h := range tt.hints {
				rl.UpdateFromServerHint(h)
			}
			if got := rl.CurrentLimit(); got != tt.want {
				t.Errorf("CurrentLimit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateLimiter_LoweredLimitSlowsRefill(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{
		Limit:    10,
		Window:   10 * time.Second,
		Burst:    10,
		Adaptive: true,
		Now:      clock.Now,
	})
	rl.Acquire(10)
	rl.UpdateFromServerHint("5")

	clock.Advance(2 * time.Second)

	if got := rl.Tokens(); got != 1 {
		t.Errorf("Tokens() = %v, want 1", got)
	}
}

func TestRateLimiter_Metrics(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{
		Limit:  10,
		Window: time.Second,
		Burst:  4,
		Now:    clock.Now,
	})
	rl.Acquire(1)
	rl.RecordServerRemaining(42)

	m := rl.Metrics()
	if m.Tokens != 3 {
		t.Errorf("Tokens = %v, want 3", m.Tokens)
	}
	if m.ServerRemaining != 42 {
		t.Errorf("ServerRemaining = %d, want 42", m.ServerRemaining)
	}
	if m.BaseLimit != 10 || m.Burst != 4 {
		t.Errorf("BaseLimit/Burst = %d/%d, want 10/4", m.BaseLimit, m.Burst)
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateLimiterConfig{
		Limit:    10,
		Window:   time.Second,
		Burst:    5,
		Adaptive: true,
		Now:      clock.Now,
	})

	rl.Acquire(5)
	rl.UpdateFromServerHint("6")
	rl.Reset()

	if got := rl.Tokens(); got != 5 {
		t.Errorf("Tokens() after Reset = %v, want 5", got)
	}
	if got := rl.CurrentLimit(); got != 10 {
		t.Errorf("CurrentLimit() after Reset = %v, want 10", got)
	}
}
