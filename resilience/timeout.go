package resilience

import (
	"context"
	"time"
)

// DefaultAttemptTimeout bounds an attempt when none is configured.
const DefaultAttemptTimeout = 30 * time.Second

// AttemptTimeout bounds a single transport attempt. Its own expiry is a
// retryable KindTimeout; the caller's cancellation or deadline is reported
// as such and ends the call.
type AttemptTimeout time.Duration

// Run calls op with a context that expires after the timeout. op must
// return once that context is done.
func (d AttemptTimeout) Run(ctx context.Context, op func(context.Context) error) error {
	limit := time.Duration(d)
	if limit <= 0 {
		limit = DefaultAttemptTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	err := op(attemptCtx)
	if err == nil || attemptCtx.Err() == nil {
		return err
	}
	if parentErr := ctx.Err(); parentErr != nil {
		return aborted(parentErr)
	}
	return &Error{
		Kind:    KindTimeout,
		Message: "attempt exceeded " + limit.String(),
		Cause:   err,
	}
}
