package errors

import (
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFloodWait(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want time.Duration
		ok   bool
	}{
		{"FLOOD_WAIT_42", 42 * time.Second, true},
		{"rpc error 420: FLOOD_WAIT_7 (caused by SaveBigFilePart)", 7 * time.Second, true},
		{"FLOOD_WAIT_", 0, false},
		{"PEER_ID_INVALID", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got, ok := ParseFloodWait(tt.msg)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	t.Run("TypedError", func(t *testing.T) {
		err := fmt.Errorf("upload: %w", NewRateLimited("save_file_part", 42*time.Second, nil))
		wait, ok := RetryAfter(err)
		require.True(t, ok)
		assert.Equal(t, 42*time.Second, wait)
		assert.True(t, IsRateLimited(err))
	})

	t.Run("RawServerMessage", func(t *testing.T) {
		wait, ok := RetryAfter(errors.New("FLOOD_WAIT_42"))
		require.True(t, ok)
		assert.Equal(t, 42*time.Second, wait)
	})

	t.Run("NotRateLimited", func(t *testing.T) {
		_, ok := RetryAfter(New(ErrTransientIO, "fetch", "exit status 1"))
		assert.False(t, ok)
	})
}

func TestIsConnectionLoss(t *testing.T) {
	t.Parallel()

	assert.True(t, IsConnectionLoss(io.EOF))
	assert.True(t, IsConnectionLoss(fmt.Errorf("read frame: %w", io.ErrUnexpectedEOF)))
	assert.True(t, IsConnectionLoss(syscall.ECONNRESET))
	assert.True(t, IsConnectionLoss(errors.New("read 0 bytes from socket")))
	assert.True(t, IsConnectionLoss(errors.New("websocket: close 1006 (abnormal closure)")))
	assert.True(t, IsConnectionLoss(New(ErrConnectionLoss, "ping", "")))

	assert.False(t, IsConnectionLoss(nil))
	assert.False(t, IsConnectionLoss(errors.New("FILE_PARTS_INVALID")))
	// A coded error keeps its own classification even when the cause looks
	// like a dropped connection.
	assert.False(t, IsConnectionLoss(Wrap(ErrTransientIO, "download", io.EOF)))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryable(errors.New("boom")))
	assert.True(t, IsRetryable(New(ErrTimedOut, "fetch", "")))
	assert.False(t, IsRetryable(NewRateLimited("send", time.Second, nil)))
	assert.False(t, IsRetryable(New(ErrPermanentRejection, "send", "bad request")))
	assert.False(t, IsRetryable(nil))
}

func TestRelayErrorMatching(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("pipeline: %w", NewTimedOut("fetch", 2, 300*time.Second))
	assert.True(t, IsTimedOut(err))
	assert.True(t, errors.Is(err, &RelayError{Code: ErrTimedOut}))
	assert.False(t, errors.Is(err, &RelayError{Code: ErrTimedOut, Op: "upload"}))

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, "TimedOut", code.String())
	assert.Contains(t, err.Error(), "attempt 2 exceeded 5m0s")
}

func TestWrapUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := Wrap(ErrTransientIO, "write_temp", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "write_temp: TransientIO: disk full", err.Error())
}
