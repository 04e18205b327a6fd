package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
)

// recordSleeps returns a SleepFunc that records delays instead of waiting.
func recordSleeps(delays *[]time.Duration) SleepFunc {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDelaySchedule(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy("test")
	assert.Equal(t, 1*time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 16*time.Second, p.Delay(5))
	assert.Equal(t, 30*time.Second, p.Delay(6), "capped at MaxDelay")
	assert.Equal(t, 30*time.Second, p.Delay(20))
}

func TestSucceedsAfterTwoFailures(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	p := DefaultPolicy("flaky")
	p.Sleep = recordSleeps(&delays)

	calls := 0
	v, err := Do(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestExhaustion(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	p := DefaultPolicy("always-fails")
	p.Sleep = recordSleeps(&delays)

	cause := errors.New("server said no")
	calls := 0
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, cause
	})

	require.Error(t, err)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2, "no sleep after the final attempt")
}

func TestTerminalErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"RateLimited", relayerrors.NewRateLimited("send", 42*time.Second, nil)},
		{"RawFloodWait", errors.New("FLOOD_WAIT_42")},
		{"PermanentRejection", relayerrors.New(relayerrors.ErrPermanentRejection, "send", "MEDIA_INVALID")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var delays []time.Duration
			p := DefaultPolicy("send")
			p.Sleep = recordSleeps(&delays)

			calls := 0
			_, err := Do(context.Background(), p, func(ctx context.Context) (struct{}, error) {
				calls++
				return struct{}{}, tt.err
			})
			assert.Equal(t, tt.err, err)
			assert.Equal(t, 1, calls)
			assert.Empty(t, delays)
		})
	}
}

func TestAttemptTimeoutIsDistinct(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	p := DefaultPolicy("slow")
	p.MaxAttempts = 2
	p.AttemptTimeout = 20 * time.Millisecond
	p.Sleep = recordSleeps(&delays)

	release := make(chan struct{})
	defer close(release)

	var calls atomic.Int32
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release // ignores ctx on purpose
		return 1, nil
	})

	require.Error(t, err)
	assert.True(t, relayerrors.IsTimedOut(err))
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, []time.Duration{time.Second}, delays)
}

func TestOperationErrorWithinDeadlineIsNotTimeout(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy("fast-fail")
	p.MaxAttempts = 1
	p.AttemptTimeout = time.Second

	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, errors.New("bad")
	})
	require.Error(t, err)
	assert.False(t, relayerrors.IsTimedOut(err))
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy("cancel")
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestOnRetryHook(t *testing.T) {
	t.Parallel()

	var seen []int
	p := DefaultPolicy("hook")
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	p.OnRetry = func(attempt int, _ time.Duration, _ error) { seen = append(seen, attempt) }

	_, _ = Do(context.Background(), p, func(ctx context.Context) (int, error) {
		return 0, errors.New("x")
	})
	assert.Equal(t, []int{1, 2}, seen)
}
