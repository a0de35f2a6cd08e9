package exchange

import (
	"context"
	"errors"
	"time"
)

// Backoff configures the retry of fetch operations. Only side effect free
// operations may be retried.
type Backoff struct {
	Attempts int           // total number of attempts, at least 1.
	Initial  time.Duration // delay before the second attempt.
	Max      time.Duration // upper bound of a delay.
}

// DefaultBackoff waits 0.5s, 1s, 2s between four attempts.
var DefaultBackoff = Backoff{Attempts: 4, Initial: 500 * time.Millisecond, Max: 8 * time.Second}

// delay returns the wait before attempt n (n >= 1 is the first retry).
func (b Backoff) delay(n int) time.Duration {
	d := b.Initial << (n - 1)
	if d <= 0 || (b.Max > 0 && d > b.Max) {
		return b.Max
	}
	return d
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// Retry calls fetch until it succeeds, returns a permanent error, the context
// is done, or the attempts are exhausted. It waits with an exponential
// backoff between attempts.
func Retry[T any](ctx context.Context, b Backoff, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(b.Attempts, 1)
	var err error
	for n := 0; n < attempts; n++ {
		if n > 0 {
			t := time.NewTimer(b.delay(n))
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, errors.Join(ctx.Err(), err)
			case <-t.C:
			}
		}
		var v T
		v, err = fetch(ctx)
		if err == nil {
			return v, nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if ctx.Err() != nil {
			return zero, errors.Join(ctx.Err(), err)
		}
	}
	return zero, err
}
