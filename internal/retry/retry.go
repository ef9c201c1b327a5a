// Package retry runs external calls (embedding, search, generation) with a
// per-attempt timeout and a bounded number of exponential-backoff retries.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy configures one class of external call.
type Policy struct {
	// Timeout bounds a single attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	// Retries is the number of retries after the first attempt.
	Retries int
	// Backoff is the wait before the first retry; later waits grow exponentially.
	Backoff time.Duration
}

// DefaultPolicy is one retry with a short backoff.
func DefaultPolicy() Policy {
	return Policy{Timeout: 30 * time.Second, Retries: 1, Backoff: 500 * time.Millisecond}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, or the policy is exhausted.
// Cancellation of ctx is never retried.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.Backoff > 0 {
		b.InitialInterval = p.Backoff
	}
	b.MaxInterval = 10 * b.InitialInterval

	attempts := 0
	operation := func() (T, error) {
		attempts++
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, backoff.Permanent(err)
		}
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		v, err := op(attemptCtx)
		if err != nil && ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		return v, err
	}

	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Debug("retrying external call", "attempt", attempts, "wait", wait, "error", err)
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return v, err
}
