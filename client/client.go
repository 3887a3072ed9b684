package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jonwraymond/registrylink/auth"
	"github.com/jonwraymond/registrylink/cache"
	"github.com/jonwraymond/registrylink/health"
	"github.com/jonwraymond/registrylink/observe"
	"github.com/jonwraymond/registrylink/resilience"
	"github.com/jonwraymond/registrylink/transport"
)

// Config wires the components a Client coordinates.
type Config struct {
	// Transport performs single attempts. Required.
	Transport *transport.Transport

	// Endpoints holds the per-endpoint breakers, limiters and bulkheads.
	// Default: resilience.NewEndpoints with default settings
	Endpoints *resilience.Endpoints

	// Retry decides on retries and backoff.
	// Default: resilience.NewRetry with default settings
	Retry *resilience.Retry

	// Monitor selects the base URL of every attempt. When nil, BaseURL is
	// used for all attempts.
	Monitor *health.Monitor
	BaseURL string

	// Tokens supplies bearer tokens. When nil no Authorization header is
	// sent.
	Tokens *auth.TokenManager

	// Signer signs every attempt when set.
	Signer *auth.Signer

	// Idempotency stores the responses of calls that carry an idempotency
	// key. When nil the key is only forwarded to the server.
	Idempotency *cache.Idempotency

	// CallTimeout bounds a whole Execute call, retries included.
	// Default: 0 (no bound besides the retry MaxElapsed)
	CallTimeout time.Duration

	// Middleware wraps the pipeline, first entry outermost.
	Middleware []Middleware

	// Logger receives pipeline events such as re-authentication.
	// Default: observe.NopLogger()
	Logger observe.Logger
}

// Client executes registry requests through the resilience pipeline.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Context: every wait (rate limit, bulkhead, token, backoff, network)
//     honors ctx; cancellation ends the call with KindCancelled.
//   - Errors: failures are *resilience.Error values with Endpoint,
//     CorrelationID and Attempts set.
type Client struct {
	config  Config
	handler Handler

	closeMu sync.Mutex
	closers []func(context.Context) error
	closed  bool
}

// New creates a client.
func New(config Config) (*Client, error) {
	if config.Transport == nil {
		return nil, ErrNilTransport
	}
	if config.Monitor == nil && config.BaseURL == "" {
		return nil, ErrNoEndpoint
	}

	// Apply defaults
	if config.Endpoints == nil {
		config.Endpoints = resilience.NewEndpoints(resilience.EndpointConfig{})
	}
	if config.Retry == nil {
		config.Retry = resilience.NewRetry(resilience.RetryConfig{})
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}

	c := &Client{config: config}
	c.handler = Chain(HandlerFunc(c.execute), config.Middleware...)
	return c, nil
}

// Execute runs req through the pipeline. On failure the last response
// received, if any, is returned together with the error.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	req, err := req.normalize()
	if err != nil {
		return nil, err
	}

	if c.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()
	}

	// One correlation id for every attempt of this call.
	id := req.Header.Get(transport.HeaderRequestID)
	if id == "" {
		id = observe.CorrelationID(ctx)
	}
	if id == "" {
		id = transport.NewRequestID()
	}
	req.Header.Set(transport.HeaderRequestID, id)
	ctx = observe.WithCorrelationID(ctx, id)

	return c.handler.Execute(ctx, req)
}

// Create posts a new resource.
func (c *Client) Create(ctx context.Context, resource string, body []byte, idempotencyKey string) (*Response, error) {
	return c.Execute(ctx, Create(resource, body, idempotencyKey))
}

// Read fetches one resource.
func (c *Client) Read(ctx context.Context, resource, id string) (*Response, error) {
	return c.Execute(ctx, Read(resource, id))
}

// Search queries a resource type.
func (c *Client) Search(ctx context.Context, resource string, query url.Values) (*Response, error) {
	return c.Execute(ctx, Search(resource, query))
}

// Update replaces one resource.
func (c *Client) Update(ctx context.Context, resource, id string, body []byte, idempotencyKey string) (*Response, error) {
	return c.Execute(ctx, Update(resource, id, body, idempotencyKey))
}

// Delete removes one resource.
func (c *Client) Delete(ctx context.Context, resource, id, idempotencyKey string) (*Response, error) {
	return c.Execute(ctx, Delete(resource, id, idempotencyKey))
}

// Batch posts a batch or transaction bundle.
func (c *Client) Batch(ctx context.Context, bundle []byte, idempotencyKey string) (*Response, error) {
	return c.Execute(ctx, Batch(bundle, idempotencyKey))
}

// execute is the innermost handler.
func (c *Client) execute(ctx context.Context, req *Request) (*Response, error) {
	id := req.Header.Get(transport.HeaderRequestID)

	if resp, ok := c.replay(ctx, req); ok {
		resp.CorrelationID = id
		return resp, nil
	}

	ep := c.config.Endpoints.Get(req.Endpoint)

	var (
		resp     *Response
		attempts int
	)
	err := ep.Limiter.Execute(ctx, !req.NoWait, func(ctx context.Context) error {
		return withBulkhead(ctx, ep, func(ctx context.Context) error {
			var err error
			resp, attempts, err = c.call(ctx, ep, req)
			return err
		})
	})
	if resp != nil {
		resp.CorrelationID = id
		resp.Attempts = attempts
	}
	if err != nil {
		return resp, annotate(err, req.Endpoint, id, attempts)
	}

	c.store(ctx, req, resp)
	return resp, nil
}

func withBulkhead(ctx context.Context, ep *resilience.Endpoint, op func(context.Context) error) error {
	if ep.Bulkhead == nil {
		return op(ctx)
	}
	return ep.Bulkhead.Execute(ctx, op)
}

// call obtains a token and runs the retry loop. It returns the last
// response seen and the number of transport attempts.
func (c *Client) call(ctx context.Context, ep *resilience.Endpoint, req *Request) (*Response, int, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, 0, err
	}

	var (
		last     *Response
		attempts int
		reauthed bool
	)
	_, err = c.config.Retry.Run(ctx, func(ctx context.Context, _ int) error {
		for {
			resp, sent, err := c.attempt(ctx, ep, req, token)
			if sent {
				attempts++
			}
			last = resp
			if c.config.Tokens == nil || !unauthorized(err) {
				return err
			}
			if reauthed {
				return &resilience.Error{
					Kind:       resilience.KindAuthentication,
					StatusCode: http.StatusUnauthorized,
					Message:    "credentials rejected after refresh",
					Cause:      err,
				}
			}

			// One transparent re-authentication per call.
			reauthed = true
			c.config.Logger.Warn(ctx, "registry rejected bearer token, refreshing",
				observe.F("endpoint", req.Endpoint))
			c.config.Tokens.Invalidate(token)
			if token, err = c.token(ctx); err != nil {
				return err
			}
		}
	})
	return last, attempts, err
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.config.Tokens == nil {
		return "", nil
	}
	tok, err := c.config.Tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// attempt sends req once to the active endpoint through the endpoint's
// circuit breaker and attempt timeout. sent reports whether the request
// reached the transport; an open circuit rejects it before that.
func (c *Client) attempt(ctx context.Context, ep *resilience.Endpoint, req *Request, token string) (resp *Response, sent bool, err error) {
	header := req.Header.Clone()
	if token != "" {
		header.Set(transport.HeaderAuthorization, "Bearer "+token)
	}
	if req.IdempotencyKey != "" {
		header.Set(transport.HeaderIdempotencyKey, req.IdempotencyKey)
	}
	if len(req.Body) > 0 && header.Get("Content-Type") == "" {
		header.Set("Content-Type", transport.ContentTypeFHIR)
	}
	if c.config.Signer != nil {
		c.config.Signer.Sign(req.Method, req.target(), header, req.Body)
	}

	treq := &transport.Request{
		Method: req.Method,
		Path:   req.Path,
		Query:  req.Query,
		Header: header,
		Body:   req.Body,
	}
	baseURL := c.baseURL()

	var tresp *transport.Response
	err = ep.Attempt(ctx, func(ctx context.Context) error {
		sent = true
		var doErr error
		tresp, doErr = c.config.Transport.Do(ctx, baseURL, treq)
		return doErr
	})
	if tresp == nil {
		return nil, sent, err
	}

	if tresp.Hints.Limit != "" {
		ep.Limiter.UpdateFromServerHint(tresp.Hints.Limit)
	}
	if tresp.Hints.Remaining >= 0 {
		ep.Limiter.RecordServerRemaining(tresp.Hints.Remaining)
	}

	return &Response{
		StatusCode: tresp.StatusCode,
		Header:     tresp.Header,
		Body:       tresp.Body,
		BaseURL:    tresp.BaseURL,
	}, sent, err
}

func (c *Client) baseURL() string {
	if c.config.Monitor != nil {
		return c.config.Monitor.Active()
	}
	return c.config.BaseURL
}

func (c *Client) replay(ctx context.Context, req *Request) (*Response, bool) {
	if c.config.Idempotency == nil || req.IdempotencyKey == "" {
		return nil, false
	}
	data, ok := c.config.Idempotency.Lookup(ctx, req.Endpoint, req.IdempotencyKey)
	if !ok {
		return nil, false
	}
	resp, err := decodeStored(data)
	if err != nil {
		c.config.Logger.Warn(ctx, "discarding unreadable idempotency entry",
			observe.F("endpoint", req.Endpoint), observe.F("error", err))
		return nil, false
	}
	return resp, true
}

func (c *Client) store(ctx context.Context, req *Request, resp *Response) {
	if c.config.Idempotency == nil || req.IdempotencyKey == "" {
		return
	}
	data, err := encodeStored(resp)
	if err == nil {
		err = c.config.Idempotency.Store(ctx, req.Endpoint, req.IdempotencyKey, data)
	}
	if err != nil {
		// The call succeeded; only a later replay is lost.
		c.config.Logger.Warn(ctx, "storing idempotent response failed",
			observe.F("endpoint", req.Endpoint), observe.F("error", err))
	}
}

func unauthorized(err error) bool {
	var e *resilience.Error
	return errors.As(err, &e) && e.StatusCode == http.StatusUnauthorized
}

// annotate returns err as a *resilience.Error carrying the call context.
func annotate(err error, endpoint, correlationID string, attempts int) error {
	var out resilience.Error
	if e, ok := err.(*resilience.Error); ok {
		out = *e
	} else {
		out = resilience.Error{Kind: resilience.KindOf(err), Cause: err}
	}
	out.Endpoint = endpoint
	if out.CorrelationID == "" {
		out.CorrelationID = correlationID
	}
	out.Attempts = attempts
	return &out
}

// Start starts background endpoint health monitoring.
func (c *Client) Start() error {
	if c.config.Monitor == nil {
		return nil
	}
	return c.config.Monitor.Start()
}

// Probe runs one health probe round immediately and returns the active
// endpoint afterwards.
func (c *Client) Probe(ctx context.Context) string {
	if c.config.Monitor == nil {
		return c.config.BaseURL
	}
	c.config.Monitor.ProbeAll(ctx)
	return c.config.Monitor.Active()
}

// OnClose registers fn to run when the client is closed. Functions run in
// reverse registration order.
func (c *Client) OnClose(fn func(context.Context) error) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	c.closers = append(c.closers, fn)
}

// Close stops health monitoring and releases registered resources. It is
// safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	closers := c.closers
	c.closeMu.Unlock()

	var errs []error
	if c.config.Monitor != nil {
		c.config.Monitor.Stop()
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
