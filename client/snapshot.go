package client

import (
	"time"

	"github.com/jonwraymond/registrylink/auth"
	"github.com/jonwraymond/registrylink/health"
	"github.com/jonwraymond/registrylink/resilience"
)

// Snapshot is a point-in-time view of the client for dashboards.
type Snapshot struct {
	TakenAt time.Time

	// ActiveEndpoint is the base URL new attempts go to.
	ActiveEndpoint string

	// Endpoints is the health of every configured base URL, primary
	// first. It is empty without a monitor.
	Endpoints []health.EndpointStatus

	// Keys holds breaker state and rate limit headroom per endpoint key
	// used so far, sorted by key.
	Keys []resilience.EndpointMetrics

	// Token describes the cached bearer token, nil without a token manager.
	Token *auth.TokenStatus
}

// Snapshot returns the current state. It does not block on probes or
// token refreshes.
func (c *Client) Snapshot() Snapshot {
	s := Snapshot{
		TakenAt:        time.Now(),
		ActiveEndpoint: c.baseURL(),
		Keys:           c.config.Endpoints.Metrics(),
	}
	if c.config.Monitor != nil {
		s.Endpoints = c.config.Monitor.Statuses()
	}
	if c.config.Tokens != nil {
		st := c.config.Tokens.Status()
		s.Token = &st
	}
	return s
}
