package health

import "errors"

var (
	// ErrProbeFailed is the error of a probe answered with a non-2xx status.
	ErrProbeFailed = errors.New("health: probe failed")

	// ErrProbeTimeout is the error of a probe that did not finish within
	// the round's timeout.
	ErrProbeTimeout = errors.New("health: probe timed out")

	// ErrNoPrimary indicates the monitor was configured without a primary endpoint.
	ErrNoPrimary = errors.New("health: primary endpoint is required")

	// ErrAlreadyStarted indicates Start was called on a running monitor.
	ErrAlreadyStarted = errors.New("health: monitor already started")
)
