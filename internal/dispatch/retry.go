package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether a failed send is attempted again.
// attempt is zero for the first failure.
type RetryPolicy interface {
	Next(attempt int, err error) (wait time.Duration, retry bool)
}

// NoRetry makes every failed send terminal.
type NoRetry struct{}

func (NoRetry) Next(int, error) (time.Duration, bool) { return 0, false }

// BackoffRetry retries up to Max times with exponential backoff. Only
// errors that report Temporary() or Timeout() as true, or that wrap
// context.DeadlineExceeded, are retried; backoff.Permanent always stops.
type BackoffRetry struct {
	Max         int
	Initial     time.Duration
	MaxInterval time.Duration
}

func (p BackoffRetry) Next(attempt int, err error) (time.Duration, bool) {
	if attempt >= p.Max || !retryable(err) {
		return 0, false
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	var wait time.Duration
	for i := 0; i <= attempt; i++ {
		wait = b.NextBackOff()
	}
	if wait == backoff.Stop {
		return 0, false
	}
	return wait, true
}

type temporary interface{ Temporary() bool }

type timeout interface{ Timeout() bool }

func retryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t temporary
	if errors.As(err, &t) && t.Temporary() {
		return true
	}
	var to timeout
	return errors.As(err, &to) && to.Timeout()
}
