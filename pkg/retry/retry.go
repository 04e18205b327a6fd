// Package retry runs an operation up to a bounded number of attempts with
// capped exponential backoff between them. Each attempt can carry its own
// deadline; an attempt that overruns it is abandoned and reported as a
// TimedOut failure, distinct from the operation returning an error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/marmos91/mediarelay/internal/logger"
	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy configures Do. The zero value is usable and behaves like
// DefaultPolicy without a per-attempt deadline.
type Policy struct {
	// Op names the operation in logs and errors.
	Op string

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// AttemptTimeout bounds each attempt. Zero means no bound.
	AttemptTimeout time.Duration

	// Retryable classifies failures. Defaults to relayerrors.IsRetryable,
	// which treats rate limits and permanent rejections as terminal.
	Retryable func(error) bool

	// Sleep is injectable for tests. Defaults to a context-aware timer.
	Sleep SleepFunc

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the canonical policy: 3 attempts, 1s base, 30s cap.
func DefaultPolicy(op string) Policy {
	return Policy{
		Op:          op,
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Retryable == nil {
		p.Retryable = relayerrors.IsRetryable
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// schedule returns the backoff generator for p: no jitter, so attempt n
// waits exactly min(BaseDelay * 2^(n-1), MaxDelay).
func (p Policy) schedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxDelay
	b.Reset()
	return b
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	b := p.schedule()
	var d time.Duration
	for range max(attempt, 1) {
		d = b.NextBackOff()
	}
	return d
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. Terminal errors are returned as-is; exhaustion is
// wrapped in an ExhaustedError carrying the last failure.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	p = p.withDefaults()
	delays := p.schedule()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, err := runAttempt(ctx, p, attempt, fn)
		if err == nil {
			if attempt > 1 {
				logger.DebugCtx(ctx, "Operation succeeded after retry",
					logger.KeyOperation, p.Op, logger.KeyAttempt, attempt)
			}
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, errors.Join(ctx.Err(), err)
		}
		if !p.Retryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := delays.NextBackOff()
		logger.WarnCtx(ctx, "Operation failed, retrying",
			logger.KeyOperation, p.Op,
			logger.KeyAttempt, attempt,
			logger.KeyDelay, delay,
			logger.KeyError, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return zero, errors.Join(err, lastErr)
		}
	}

	return zero, &ExhaustedError{Op: p.Op, Attempts: p.MaxAttempts, Err: lastErr}
}

// runAttempt executes fn, abandoning it if it overruns AttemptTimeout. The
// abandoned goroutine sees a cancelled context and its result is dropped.
func runAttempt[T any](ctx context.Context, p Policy, attempt int, fn func(context.Context) (T, error)) (T, error) {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}

	var zero T
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(actx)
		done <- result{v, err}
	}()

	timedOut := func() error {
		return relayerrors.NewTimedOut(p.Op, attempt, p.AttemptTimeout)
	}

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return zero, timedOut()
		}
		return r.value, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, timedOut()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
