package resilience

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// BulkheadConfig configures the bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the number of calls allowed in flight.
	// Default: 10
	MaxConcurrent int

	// MaxWait is how long Acquire waits for a free slot.
	// Default: 0 (reject at once)
	MaxWait time.Duration
}

// Bulkhead caps the calls in flight to one endpoint key, so a registry
// resource that has stopped answering holds at most MaxConcurrent callers.
type Bulkhead struct {
	config BulkheadConfig
	slots  chan struct{}

	peak     atomic.Int64
	rejected atomic.Int64
}

// NewBulkhead creates a bulkhead with every slot free.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	// Apply defaults
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	return &Bulkhead{
		config: config,
		slots:  make(chan struct{}, config.MaxConcurrent),
	}
}

// Acquire takes a slot and returns the func that gives it back; calling it
// more than once is harmless. Acquire fails with KindBulkheadFull when no
// slot frees up within MaxWait, or with the caller's cancellation.
func (b *Bulkhead) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case b.slots <- struct{}{}:
		return b.taken(), nil
	default:
	}
	if b.config.MaxWait <= 0 {
		return nil, b.full()
	}

	wait := time.NewTimer(b.config.MaxWait)
	defer wait.Stop()
	select {
	case b.slots <- struct{}{}:
		return b.taken(), nil
	case <-wait.C:
		return nil, b.full()
	case <-ctx.Done():
		return nil, aborted(ctx.Err())
	}
}

func (b *Bulkhead) taken() func() {
	n := int64(len(b.slots))
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	var once sync.Once
	return func() { once.Do(func() { <-b.slots }) }
}

func (b *Bulkhead) full() error {
	b.rejected.Add(1)
	return &Error{
		Kind:    KindBulkheadFull,
		Message: fmt.Sprintf("%d calls in flight", b.config.MaxConcurrent),
	}
}

// Execute runs op while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	release, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return op(ctx)
}

// BulkheadMetrics describes slot usage.
type BulkheadMetrics struct {
	InFlight int
	Peak     int
	Capacity int
	Rejected int64
}

// Metrics returns current slot usage.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	return BulkheadMetrics{
		InFlight: len(b.slots),
		Peak:     int(b.peak.Load()),
		Capacity: b.config.MaxConcurrent,
		Rejected: b.rejected.Load(),
	}
}
