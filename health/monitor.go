package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// MonitorConfig configures the endpoint monitor.
type MonitorConfig struct {
	// Primary is the preferred endpoint base URL. Required.
	Primary string

	// Backups are failover endpoints in order of preference.
	Backups []string

	// Interval is the time between probe rounds.
	// Default: 60 seconds
	Interval time.Duration

	// ProbeTimeout bounds a whole probe round.
	// Default: 5 seconds
	ProbeTimeout time.Duration

	// ProbePath is the path probed on each endpoint.
	// Default: "/metadata"
	ProbePath string

	// HTTPClient issues probes when NewChecker is nil.
	HTTPClient *http.Client

	// NewChecker builds the checker for an endpoint.
	// Default: an HTTPChecker on ProbePath
	NewChecker func(url string) Checker

	// OnFailover is called after the active endpoint changes.
	OnFailover func(from, to string)

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// EndpointStatus is the last known state of one endpoint.
type EndpointStatus struct {
	URL                 string
	Primary             bool
	Healthy             bool
	LastChecked         time.Time
	StatusCode          int
	Latency             time.Duration
	Message             string
	ConsecutiveFailures int
}

// Monitor probes endpoints in the background and selects the active one.
type Monitor struct {
	config   MonitorConfig
	checkers []Checker

	mu     sync.RWMutex
	status []EndpointStatus
	active string

	runMu  sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewMonitor creates a monitor. All endpoints start out healthy.
func NewMonitor(config MonitorConfig) (*Monitor, error) {
	if config.Primary == "" {
		return nil, ErrNoPrimary
	}

	// Apply defaults
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.ProbePath == "" {
		config.ProbePath = "/metadata"
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewChecker == nil {
		path, client := config.ProbePath, config.HTTPClient
		config.NewChecker = func(url string) Checker {
			return NewHTTPChecker(HTTPCheckerConfig{URL: url, Path: path, Client: client})
		}
	}

	urls := append([]string{config.Primary}, config.Backups...)
	seen := make(map[string]bool, len(urls))
	m := &Monitor{
		config:   config,
		checkers: make([]Checker, 0, len(urls)),
		status:   make([]EndpointStatus, 0, len(urls)),
		active:   config.Primary,
	}
	for i, url := range urls {
		if url == "" {
			return nil, fmt.Errorf("health: backup endpoint %d is empty", i-1)
		}
		if seen[url] {
			return nil, fmt.Errorf("health: endpoint %q configured twice", url)
		}
		seen[url] = true
		m.checkers = append(m.checkers, config.NewChecker(url))
		m.status = append(m.status, EndpointStatus{URL: url, Primary: i == 0, Healthy: true})
	}

	return m, nil
}

// Active returns the endpoint requests should use. It never blocks on a
// probe in progress.
func (m *Monitor) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Statuses returns a copy of the per-endpoint state, primary first.
func (m *Monitor) Statuses() []EndpointStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EndpointStatus, len(m.status))
	copy(out, m.status)
	return out
}

// ProbeAll probes every endpoint in parallel, updates the snapshot and
// returns the probes keyed by URL.
func (m *Monitor) ProbeAll(ctx context.Context) map[string]Probe {
	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	results := make([]Probe, len(m.checkers))
	var g errgroup.Group
	for i, checker := range m.checkers {
		g.Go(func() error {
			results[i] = m.runCheck(ctx, checker)
			return nil
		})
	}
	_ = g.Wait()

	from, to, changed := m.apply(results)
	if changed && m.config.OnFailover != nil {
		m.config.OnFailover(from, to)
	}

	out := make(map[string]Probe, len(results))
	for i, r := range results {
		out[m.checkers[i].Endpoint()] = r
	}
	return out
}

func (m *Monitor) apply(results []Probe) (from, to string, changed bool) {
	now := m.config.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range results {
		st := &m.status[i]
		st.Healthy = r.Healthy
		st.LastChecked = now
		st.StatusCode = r.StatusCode
		st.Latency = r.Latency
		st.Message = r.Message
		if st.Healthy {
			st.ConsecutiveFailures = 0
		} else {
			st.ConsecutiveFailures++
		}
	}

	from = m.active
	m.active = m.selectLocked()
	return from, m.active, from != m.active
}

// selectLocked prefers the primary, then the first healthy backup, then
// falls back to the primary.
func (m *Monitor) selectLocked() string {
	for _, st := range m.status {
		if st.Healthy {
			return st.URL
		}
	}
	return m.status[0].URL
}

func (m *Monitor) runCheck(ctx context.Context, checker Checker) Probe {
	start := time.Now()

	// A checker that ignores ctx must not hold up the round.
	done := make(chan Probe, 1)
	go func() {
		p := checker.Check(ctx)
		if p.Latency == 0 {
			p.Latency = time.Since(start)
		}
		done <- p
	}()

	select {
	case p := <-done:
		return p
	case <-ctx.Done():
		p := Down("probe timed out", ErrProbeTimeout)
		p.Latency = time.Since(start)
		return p
	}
}

// Start schedules probe rounds every Interval. A round still running when
// the next one is due is skipped.
func (m *Monitor) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cron != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(m.config.Interval), cron.FuncJob(func() {
		m.ProbeAll(ctx)
	}))
	c.Start()

	m.cron = c
	m.cancel = cancel
	return nil
}

// Stop cancels any running probe and waits for it to finish.
// It is safe to call Stop on a monitor that was never started.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cron == nil {
		return
	}
	m.cancel()
	<-m.cron.Stop().Done()
	m.cron = nil
	m.cancel = nil
}

// Running reports whether the background schedule is active.
func (m *Monitor) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.cron != nil
}
