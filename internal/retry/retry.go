// Package retry runs an operation repeatedly under a fixed-delay policy.
//
// The relay uses it to re-establish the broker session: each attempt is
// followed by a constant pause, and the number of attempts may be unbounded.
// Scheduling is delegated to cenkalti/backoff with a constant back-off and
// no elapsed-time limit.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned when every attempt allowed by a Policy failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts caps the number of attempts. 0 means unlimited.
	MaxAttempts int

	// Delay is the pause between consecutive attempts.
	Delay time.Duration

	// Notify, if set, is called after a failed attempt with the error and
	// the pause before the next one. It is not called after the last attempt.
	Notify func(err error, wait time.Duration)
}

// Stop wraps err so that Do returns it immediately without further attempts.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls fn until it returns nil, returns an error wrapped with Stop,
// the attempt limit is reached, or ctx is cancelled.
//
// The attempt number (starting at 1) is passed to fn. When attempts are
// exhausted the returned error wraps both ErrExhausted and the last failure.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	attempt := 0
	stopped := false
	op := func() (struct{}, error) {
		if err := ctx.Err(); err != nil {
			stopped = true
			return struct{}{}, backoff.Permanent(err)
		}
		attempt++
		err := fn(attempt)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			stopped = true
		}
		return struct{}{}, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(p.MaxAttempts)))
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(p.Notify))
	}

	_, err := backoff.Retry(ctx, op, opts...)
	switch {
	case err == nil:
		return nil
	case stopped:
		// Retry only unwraps a permanent error returned before the last try.
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Unwrap()
		}
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
	}
}

// Sleep pauses for d, returning early with ctx.Err() if ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
