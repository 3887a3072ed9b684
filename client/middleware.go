package client

import (
	"context"
	"errors"

	"github.com/jonwraymond/registrylink/observe"
	"github.com/jonwraymond/registrylink/resilience"
)

// Handler executes a normalized request.
type Handler interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware wraps a Handler with a cross-cutting concern.
type Middleware func(next Handler) Handler

// Chain composes middleware so that the first one is outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// Observability records a span, metrics and a log entry for every call.
// The correlation id is already in ctx when it runs.
func Observability(mw *observe.Middleware) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (*Response, error) {
			var resp *Response
			wrapped := mw.Wrap(func(ctx context.Context, _ observe.CallMeta) (int, error) {
				var err error
				resp, err = next.Execute(ctx, req)
				return attemptsOf(resp, err), err
			})
			_, err := wrapped(ctx, observe.CallMeta{
				Endpoint:  req.Endpoint,
				Operation: req.Operation,
				Method:    req.Method,
			})
			return resp, err
		})
	}
}

func attemptsOf(resp *Response, err error) int {
	if resp != nil {
		return resp.Attempts
	}
	var e *resilience.Error
	if errors.As(err, &e) {
		return e.Attempts
	}
	return 0
}
