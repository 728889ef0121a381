package util

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Backoff controls Retry. Delay is the wait after the first failure and
// doubles after each further one.
type Backoff struct {
	Attempts int
	Delay    time.Duration
	Log      *slog.Logger
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one that another attempt cannot fix. Retry stops
// at once and returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, or
// b.Attempts calls have failed. Failed attempts that will be retried are
// logged at Warn when b.Log is set. Cancelling ctx ends the wait between
// attempts with ctx.Err().
func Retry(ctx context.Context, b Backoff, fn func(attempt int) error) error {
	attempts := max(b.Attempts, 1)
	delay := b.Delay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}
		if b.Log != nil {
			b.Log.Warn("attempt failed, retrying", "attempt", attempt, "of", attempts, "delay", delay, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
