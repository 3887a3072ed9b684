package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPCheckerConfig configures an HTTP endpoint probe.
type HTTPCheckerConfig struct {
	// URL is the endpoint base URL.
	URL string

	// Path is appended to URL for the probe request.
	// Default: "/metadata"
	Path string

	// Client issues the probe.
	// Default: an http.Client with a 5 second timeout
	Client *http.Client
}

// HTTPChecker probes an endpoint with a GET request.
type HTTPChecker struct {
	url    string
	target string
	client *http.Client
}

// NewHTTPChecker creates a new HTTP checker.
func NewHTTPChecker(config HTTPCheckerConfig) *HTTPChecker {
	// Apply defaults
	if config.Path == "" {
		config.Path = "/metadata"
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: 5 * time.Second}
	}

	return &HTTPChecker{
		url:    config.URL,
		target: strings.TrimRight(config.URL, "/") + "/" + strings.TrimLeft(config.Path, "/"),
		client: config.Client,
	}
}

// Endpoint returns the endpoint base URL.
func (c *HTTPChecker) Endpoint() string {
	return c.url
}

// Check performs the probe. Only a 2xx status is healthy.
func (c *HTTPChecker) Check(ctx context.Context) Probe {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.target, nil)
	if err != nil {
		return Down("invalid probe request", err)
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := c.client.Do(req)
	if err != nil {
		p := Down("probe failed", err)
		p.Latency = time.Since(start)
		return p
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p := Down(fmt.Sprintf("probe returned %d", resp.StatusCode), ErrProbeFailed)
		p.StatusCode = resp.StatusCode
		p.Latency = time.Since(start)
		return p
	}
	return Up(resp.StatusCode, time.Since(start))
}

var _ Checker = (*HTTPChecker)(nil)
