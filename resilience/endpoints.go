package resilience

import (
	"context"
	"sort"
	"sync"
	"time"
)

// EndpointConfig configures the components created for every endpoint key.
type EndpointConfig struct {
	// CircuitBreaker is the template for per-endpoint breakers.
	// Its OnStateChange is replaced by the one below.
	CircuitBreaker CircuitBreakerConfig

	// RateLimiter is the template for per-endpoint limiters.
	RateLimiter RateLimiterConfig

	// MaxConcurrent caps in-flight calls per endpoint.
	// Default: 0 (no bulkhead)
	MaxConcurrent int

	// AttemptTimeout bounds each transport attempt.
	// Default: 30 seconds
	AttemptTimeout time.Duration

	// OnStateChange is called when an endpoint's breaker changes state.
	// It runs with that breaker's lock held.
	OnStateChange func(key string, from, to State)
}

// Endpoint groups the resilience state kept for one logical endpoint.
type Endpoint struct {
	Key      string
	Breaker  *CircuitBreaker
	Limiter  *RateLimiter
	Bulkhead *Bulkhead // nil when disabled
	timeout  AttemptTimeout
}

// Attempt runs one transport attempt: the circuit breaker guards a call
// bounded by the attempt timeout.
func (e *Endpoint) Attempt(ctx context.Context, op func(context.Context) error) error {
	return e.Breaker.Execute(ctx, func(ctx context.Context) error {
		return e.timeout.Run(ctx, op)
	})
}

// Metrics returns a point-in-time view of the endpoint.
func (e *Endpoint) Metrics() EndpointMetrics {
	m := EndpointMetrics{
		Key:     e.Key,
		Breaker: e.Breaker.Metrics(),
		Limiter: e.Limiter.Metrics(),
	}
	if e.Bulkhead != nil {
		b := e.Bulkhead.Metrics()
		m.Bulkhead = &b
	}
	return m
}

// EndpointMetrics contains per-endpoint statistics.
type EndpointMetrics struct {
	Key      string
	Breaker  CircuitBreakerMetrics
	Limiter  RateLimiterMetrics
	Bulkhead *BulkheadMetrics
}

// Endpoints lazily creates and holds per-endpoint state for the lifetime of
// the process. Endpoints never contend with each other after creation.
type Endpoints struct {
	config EndpointConfig

	mu sync.RWMutex
	m  map[string]*Endpoint
}

// NewEndpoints creates an empty registry.
func NewEndpoints(config EndpointConfig) *Endpoints {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	return &Endpoints{
		config: config,
		m:      make(map[string]*Endpoint),
	}
}

// Get returns the endpoint for key, creating it on first use.
func (r *Endpoints) Get(key string) *Endpoint {
	r.mu.RLock()
	e, ok := r.m[key]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if e, ok := r.m[key]; ok {
		return e
	}
	e = r.newEndpoint(key)
	r.m[key] = e
	return e
}

func (r *Endpoints) newEndpoint(key string) *Endpoint {
	cbConfig := r.config.CircuitBreaker
	cbConfig.OnStateChange = nil
	if fn := r.config.OnStateChange; fn != nil {
		cbConfig.OnStateChange = func(from, to State) { fn(key, from, to) }
	}

	e := &Endpoint{
		Key:     key,
		Breaker: NewCircuitBreaker(cbConfig),
		Limiter: NewRateLimiter(r.config.RateLimiter),
		timeout: AttemptTimeout(r.config.AttemptTimeout),
	}
	if r.config.MaxConcurrent > 0 {
		e.Bulkhead = NewBulkhead(BulkheadConfig{MaxConcurrent: r.config.MaxConcurrent})
	}
	return e
}

// Keys returns the known endpoint keys in sorted order.
func (r *Endpoints) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.m))
	for k := range r.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Metrics returns metrics for every known endpoint, sorted by key.
func (r *Endpoints) Metrics() []EndpointMetrics {
	keys := r.Keys()
	out := make([]EndpointMetrics, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.Get(k).Metrics())
	}
	return out
}
