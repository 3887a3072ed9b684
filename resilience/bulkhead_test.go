package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBulkhead_DefaultCapacity(t *testing.T) {
	if got := NewBulkhead(BulkheadConfig{}).Metrics().Capacity; got != 10 {
		t.Errorf("Capacity = %d, want 10", got)
	}
}

func TestBulkhead_RejectsWhenFull(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 2})
	ctx := context.Background()

	first, err := b.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	_, err = b.Acquire(ctx)
	if !errors.Is(err, ErrBulkheadFull) {
		t.Fatalf("Acquire() on a full bulkhead = %v, want ErrBulkheadFull", err)
	}
	if Retryable(err) {
		t.Error("a full bulkhead should not be retried")
	}

	first()
	first()
	if got := b.Metrics().InFlight; got != 1 {
		t.Errorf("InFlight after double release = %d, want 1", got)
	}
	if _, err := b.Acquire(ctx); err != nil {
		t.Errorf("Acquire() after release = %v", err)
	}
}

func TestBulkhead_WaitsForSlot(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: time.Second})
	release, _ := b.Acquire(context.Background())

	time.AfterFunc(10*time.Millisecond, release)

	start := time.Now()
	if _, err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Acquire() should return as soon as a slot frees up")
	}
}

func TestBulkhead_WaitErrors(t *testing.T) {
	tests := []struct {
		name string
		ctx  func() (context.Context, context.CancelFunc)
		want error
	}{
		{
			name: "max wait elapses",
			ctx:  func() (context.Context, context.CancelFunc) { return context.Background(), func() {} },
			want: ErrBulkheadFull,
		},
		{
			name: "caller cancels",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			want: ErrCancelled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: 20 * time.Millisecond})
			_, _ = b.Acquire(context.Background())

			ctx, cancel := tt.ctx()
			defer cancel()
			if _, err := b.Acquire(ctx); !errors.Is(err, tt.want) {
				t.Errorf("Acquire() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBulkhead_Execute(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	boom := errors.New("registry unavailable")

	if err := b.Execute(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Execute() = %v, want the operation's error", err)
	}
	if got := b.Metrics().InFlight; got != 0 {
		t.Errorf("InFlight after Execute = %d, want 0", got)
	}
}

func TestBulkhead_CapsConcurrency(t *testing.T) {
	const capacity = 3
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: capacity, MaxWait: 5 * time.Second})

	var current, highest atomic.Int32
	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					h := highest.Load()
					if n <= h || highest.CompareAndSwap(h, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if highest.Load() > capacity {
		t.Errorf("observed %d concurrent calls, want at most %d", highest.Load(), capacity)
	}
	m := b.Metrics()
	if m.Peak > capacity || m.Peak == 0 {
		t.Errorf("Peak = %d, want 1..%d", m.Peak, capacity)
	}
	if m.Rejected != 0 {
		t.Errorf("Rejected = %d, want 0", m.Rejected)
	}
}

func TestBulkhead_Metrics(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 2})
	r1, _ := b.Acquire(context.Background())
	_, _ = b.Acquire(context.Background())
	_, _ = b.Acquire(context.Background())
	r1()

	want := BulkheadMetrics{InFlight: 1, Peak: 2, Capacity: 2, Rejected: 1}
	if got := b.Metrics(); got != want {
		t.Errorf("Metrics() = %+v, want %+v", got, want)
	}
}
