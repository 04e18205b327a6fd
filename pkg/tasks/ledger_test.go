package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRunsAndDeregisters(t *testing.T) {
	t.Parallel()
	l := NewLedger(context.Background())

	var ran atomic.Bool
	h := l.Go("once", func(ctx context.Context) { ran.Store(true) })
	require.NoError(t, h.Wait(context.Background()))

	assert.True(t, ran.Load())
	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, time.Millisecond)
}

func TestHandleCancel(t *testing.T) {
	t.Parallel()
	l := NewLedger(context.Background())

	h := l.Go("loop", func(ctx context.Context) { <-ctx.Done() })
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, []string{"loop"}, l.Names())

	h.Cancel()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop after Cancel")
	}
}

func TestShutdownWaitsForTasks(t *testing.T) {
	t.Parallel()
	l := NewLedger(context.Background())

	var finished atomic.Bool
	l.Go("short", func(ctx context.Context) {
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})

	require.NoError(t, l.Shutdown(context.Background()))
	assert.True(t, finished.Load())
}

func TestShutdownCancelsOnDeadline(t *testing.T) {
	t.Parallel()
	l := NewLedger(context.Background())

	var cancelled atomic.Bool
	l.Go("keepalive", func(ctx context.Context) {
		<-ctx.Done()
		cancelled.Store(true)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Shutdown(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, cancelled.Load())
	assert.Equal(t, 0, l.Len())
}

func TestGoAfterShutdownIsRejected(t *testing.T) {
	t.Parallel()
	l := NewLedger(context.Background())
	require.NoError(t, l.Shutdown(context.Background()))

	var ran atomic.Bool
	h := l.Go("late", func(ctx context.Context) { ran.Store(true) })
	<-h.Done()
	assert.False(t, ran.Load())
}

func TestCloseCancelsOutstanding(t *testing.T) {
	t.Parallel()
	l := NewLedger(context.Background())

	h := l.Go("stuck", func(ctx context.Context) { <-ctx.Done() })
	l.Close()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("Close did not cancel the task")
	}
}

func TestParentCancellationPropagates(t *testing.T) {
	t.Parallel()
	parent, cancel := context.WithCancel(context.Background())
	l := NewLedger(parent)

	h := l.Go("child", func(ctx context.Context) { <-ctx.Done() })
	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation did not reach the task")
	}
}
