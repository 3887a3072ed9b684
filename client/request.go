package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jonwraymond/registrylink/cache"
)

// Operations name the verb of a call for logs, spans and metrics.
const (
	OpCreate = "create"
	OpRead   = "read"
	OpSearch = "search"
	OpUpdate = "update"
	OpDelete = "delete"
	OpBatch  = "batch"
)

// Request is one logical registry call. It is retried as a whole, so Body
// must not change between attempts.
type Request struct {
	// Operation is a verb such as OpRead. Optional.
	Operation string

	// Endpoint is the logical endpoint key the breaker, limiter and
	// idempotency entries are kept under.
	// Default: the first segment of Path, or "root"
	Endpoint string

	Method string
	// Path is URL-escaped; the builders escape resource ids.
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte

	// IdempotencyKey enables replay of a stored successful response.
	IdempotencyKey string

	// NoWait fails with resilience.KindRateLimited instead of waiting for a
	// rate limit token.
	NoWait bool
}

// Response is the result of a call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// BaseURL is the endpoint that answered.
	BaseURL string

	// CorrelationID is the X-Request-ID sent on every attempt.
	CorrelationID string

	// Attempts is the number of transport attempts made. It is zero for a
	// replayed response.
	Attempts int

	// Replayed is set when the response came from the idempotency store.
	Replayed bool
}

// EndpointKey derives the logical endpoint key from a request path: the
// first non-empty segment ("Patient" for "/Patient/123"), or "root".
func EndpointKey(path string) string {
	path = strings.TrimLeft(path, "/")
	if i := strings.IndexAny(path, "/?"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "root"
	}
	return path
}

// Create builds a POST of a new resource.
func Create(resource string, body []byte, idempotencyKey string) *Request {
	return &Request{
		Operation:      OpCreate,
		Method:         http.MethodPost,
		Path:           "/" + resource,
		Body:           body,
		IdempotencyKey: idempotencyKey,
	}
}

// Read builds a GET of one resource.
func Read(resource, id string) *Request {
	return &Request{
		Operation: OpRead,
		Method:    http.MethodGet,
		Path:      "/" + resource + "/" + url.PathEscape(id),
	}
}

// Search builds a GET search on a resource type.
func Search(resource string, query url.Values) *Request {
	return &Request{
		Operation: OpSearch,
		Method:    http.MethodGet,
		Path:      "/" + resource,
		Query:     query,
	}
}

// Update builds a PUT replacing one resource.
func Update(resource, id string, body []byte, idempotencyKey string) *Request {
	return &Request{
		Operation:      OpUpdate,
		Method:         http.MethodPut,
		Path:           "/" + resource + "/" + url.PathEscape(id),
		Body:           body,
		IdempotencyKey: idempotencyKey,
	}
}

// Delete builds a DELETE of one resource.
func Delete(resource, id string, idempotencyKey string) *Request {
	return &Request{
		Operation:      OpDelete,
		Method:         http.MethodDelete,
		Path:           "/" + resource + "/" + url.PathEscape(id),
		IdempotencyKey: idempotencyKey,
	}
}

// Batch builds a POST of a batch or transaction bundle to the base URL.
func Batch(bundle []byte, idempotencyKey string) *Request {
	return &Request{
		Operation:      OpBatch,
		Endpoint:       "batch",
		Method:         http.MethodPost,
		Path:           "/",
		Body:           bundle,
		IdempotencyKey: idempotencyKey,
	}
}

// normalize fills defaults on a copy of r.
func (r *Request) normalize() (*Request, error) {
	if r == nil {
		return nil, ErrNilRequest
	}
	if r.Method == "" {
		return nil, ErrMissingMethod
	}
	if r.IdempotencyKey != "" {
		if err := cache.ValidateKey(r.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("client: idempotency key: %w", err)
		}
	}
	req := *r
	req.Method = strings.ToUpper(req.Method)
	if req.Endpoint == "" {
		req.Endpoint = EndpointKey(req.Path)
	}
	req.Header = r.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	return &req, nil
}

// target is the path and query the signature covers.
func (r *Request) target() string {
	t := "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		t += "?" + r.Query.Encode()
	}
	return t
}
