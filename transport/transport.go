package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/registrylink/resilience"
)

// ErrResponseTooLarge is the cause of an attempt whose body exceeded
// Config.MaxResponseBytes. It is not retried.
var ErrResponseTooLarge = errors.New("transport: response body too large")

// Config configures the HTTP transport.
type Config struct {
	// ConnectTimeout bounds dialing a connection.
	// Default: 10 seconds
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for response headers.
	// Default: 30 seconds
	ReadTimeout time.Duration

	// MaxIdleConnsPerHost sizes the keep-alive pool per host.
	// Default: 10
	MaxIdleConnsPerHost int

	// MaxResponseBytes caps how much of a body is read. A longer body fails
	// the attempt with ErrResponseTooLarge.
	// Default: 32 MiB
	MaxResponseBytes int64

	// UserAgent is sent on every request.
	// Default: "registrylink"
	UserAgent string

	// HTTPClient replaces the client built from the fields above.
	HTTPClient *http.Client

	// Now returns the current time, used for HTTP-date Retry-After values.
	// Default: time.Now
	Now func() time.Time
}

// Request is a single outbound call relative to a base URL.
type Request struct {
	Method string
	// Path is in escaped form and is joined to the base URL's path as is.
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// BaseURL is the endpoint the response came from.
	BaseURL string
	Hints   RateLimitHints
}

// Transport performs one attempt per Do call.
type Transport struct {
	config Config
	client *http.Client
}

// New creates a transport.
func New(config Config) *Transport {
	// Apply defaults
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if config.MaxIdleConnsPerHost <= 0 {
		config.MaxIdleConnsPerHost = 10
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = 32 << 20
	}
	if config.UserAgent == "" {
		config.UserAgent = "registrylink"
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	client := config.HTTPClient
	if client == nil {
		dialer := &net.Dialer{Timeout: config.ConnectTimeout, KeepAlive: 30 * time.Second}
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   config.ConnectTimeout,
				ResponseHeaderTimeout: config.ReadTimeout,
				MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
				IdleConnTimeout:       90 * time.Second,
				ForceAttemptHTTP2:     true,
			},
		}
	}

	return &Transport{config: config, client: client}
}

// NewRequestID returns a fresh correlation id.
func NewRequestID() string {
	return uuid.NewString()
}

// Do sends req to baseURL.
//
// 2xx responses return a nil error. Any other status returns the response
// together with a *resilience.Error: 429 is KindThrottled, 5xx KindServer,
// other 4xx KindClient, with Retry-After parsed into RetryAfter. Connection
// failures are KindNetwork or KindTimeout. If ctx is done the context error
// is returned unchanged.
func (t *Transport) Do(ctx context.Context, baseURL string, req *Request) (*Response, error) {
	target, err := joinURL(baseURL, req.Path, req.Query)
	if err != nil {
		return nil, resilience.NewError(resilience.KindClient, "invalid request url", err)
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, resilience.NewError(resilience.KindClient, "build request", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get(HeaderRequestID) == "" {
		httpReq.Header.Set(HeaderRequestID, NewRequestID())
	}
	httpReq.Header.Set("User-Agent", t.config.UserAgent)
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", ContentTypeFHIR)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", ContentTypeFHIR)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, t.classifyTransportError(ctx, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, t.config.MaxResponseBytes+1))
	if err != nil {
		return nil, t.classifyTransportError(ctx, fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > t.config.MaxResponseBytes {
		return nil, &resilience.Error{
			Kind:       resilience.KindClient,
			StatusCode: httpResp.StatusCode,
			Message:    fmt.Sprintf("response body exceeds %d bytes", t.config.MaxResponseBytes),
			Cause:      ErrResponseTooLarge,
		}
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		BaseURL:    baseURL,
		Hints:      ParseRateLimitHints(httpResp.Header),
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	return resp, t.statusError(resp)
}

func (t *Transport) classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return resilience.NewError(resilience.KindTimeout, "request timed out", err)
	}
	return resilience.NewError(resilience.KindNetwork, "request failed", err)
}

func (t *Transport) statusError(resp *Response) error {
	e := &resilience.Error{
		StatusCode: resp.StatusCode,
		Message:    bodySnippet(resp.Body),
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = resilience.KindThrottled
	case resp.StatusCode >= 500:
		e.Kind = resilience.KindServer
	case resp.StatusCode >= 400:
		e.Kind = resilience.KindClient
	default:
		// 1xx and 3xx are not followed into a usable result.
		e.Kind = resilience.KindClient
	}
	if e.Kind == resilience.KindThrottled || e.Kind == resilience.KindServer {
		e.RetryAfter = ParseRetryAfter(resp.Header.Get(HeaderRetryAfter), t.config.Now())
	}
	return e
}

const maxSnippet = 256

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxSnippet {
		s = s[:maxSnippet] + "..."
	}
	return s
}

func joinURL(baseURL, path string, query url.Values) (string, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("transport: base url %q must be absolute", baseURL)
	}
	if path != "" {
		raw := base.EscapedPath() + "/" + strings.TrimLeft(path, "/")
		decoded, err := url.PathUnescape(raw)
		if err != nil {
			return "", fmt.Errorf("transport: path %q: %w", path, err)
		}
		base.Path, base.RawPath = decoded, raw
	}
	if len(query) > 0 {
		base.RawQuery = query.Encode()
	}
	return base.String(), nil
}
