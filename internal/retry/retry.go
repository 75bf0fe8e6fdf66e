// Package retry holds the one backoff policy shared by join verification,
// degraded confirmation and poll error handling.
package retry

import (
	"context"
	"errors"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// ErrAborted is returned by Do when the attempt function gave up on purpose.
var ErrAborted = errors.New("retry aborted")

// Policy describes how many attempts to make and how long to wait between them.
// Delay is the base delay; with Backoff set it doubles per attempt up to MaxDelay.
type Policy struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
	Backoff  bool
}

// Fixed returns a policy with a constant delay.
func Fixed(attempts uint, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay}
}

// Exponential returns a doubling policy capped at max.
func Exponential(attempts uint, base, max time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: base, MaxDelay: max, Backoff: true}
}

// DelayFor returns the wait after the n-th failed attempt (0-based).
func (p Policy) DelayFor(n uint) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	if !p.Backoff {
		return p.Delay
	}
	d := p.Delay
	for i := uint(0); i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do calls fn until it returns nil, the attempts are exhausted, the context
// ends or fn wraps its error with Abort. onRetry, when set, is called after
// every recoverable failed attempt.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt uint, err error)) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	opts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(attempts),
		retrygo.LastErrorOnly(true),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			return p.DelayFor(n)
		}),
	}
	if onRetry != nil {
		opts = append(opts, retrygo.OnRetry(onRetry))
	}
	return retrygo.Do(func() error { return fn(ctx) }, opts...)
}

// Abort stops a Do loop early; the returned error still satisfies errors.Is(err, ErrAborted).
func Abort(err error) error {
	if err == nil {
		err = ErrAborted
	} else {
		err = errors.Join(ErrAborted, err)
	}
	return retrygo.Unrecoverable(err)
}
