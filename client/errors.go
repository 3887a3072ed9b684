package client

import "errors"

// Sentinel errors for request validation.
var (
	ErrNilRequest    = errors.New("client: request is nil")
	ErrMissingMethod = errors.New("client: request method is required")
	ErrNoEndpoint    = errors.New("client: no base url or monitor configured")
	ErrNilTransport  = errors.New("client: transport is required")
)
