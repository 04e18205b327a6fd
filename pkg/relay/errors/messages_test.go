package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		fallback string
		want     string
	}{
		{"Nil", nil, "x", ""},
		{"RateLimited", NewRateLimited("send_media", 42*time.Second, nil), "", "⏳ Rate limited. Please wait 42 seconds and try again."},
		{"RawFloodWait", errors.New("rpc error 420: FLOOD_WAIT_7"), "", "⏳ Rate limited. Please wait 7 seconds and try again."},
		{"TimedOut", NewTimedOut("upload", 3, 10*time.Minute), "", MsgTimeout},
		{"Deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), "", MsgTimeout},
		{"Fallback", errors.New("boom"), "❌ Upload failed - please try again later", "❌ Upload failed - please try again later"},
		{"Generic", errors.New("boom"), "", MsgGenericFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err, tt.fallback))
		})
	}
}

func TestDownloadMessage(t *testing.T) {
	t.Parallel()

	rejected := func(msg string) error {
		return &RelayError{Code: ErrPermanentRejection, Op: "fetch", Message: msg}
	}

	assert.Equal(t, MsgSignIn, DownloadMessage(rejected("ERROR: Sign in required")))
	assert.Equal(t, MsgPrivate, DownloadMessage(rejected("ERROR: [youtube] x: Private video")))
	assert.Equal(t, MsgAgeRestricted, DownloadMessage(rejected("ERROR: This video is age-restricted")))
	assert.Equal(t, MsgUnavailable, DownloadMessage(rejected("ERROR: Requested format is not available")))
	assert.Equal(t, MsgBadResponse, DownloadMessage(errors.New("Failed to parse JSON")))
	assert.Equal(t, MsgDownloadTimeout, DownloadMessage(NewTimedOut("fetch", 1, time.Second)))
	assert.Empty(t, DownloadMessage(nil))

	long := strings.Repeat("x", 150)
	msg := DownloadMessage(&RelayError{Code: ErrTransientIO, Op: "fetch", Message: long})
	assert.Equal(t, "❌ Failed to download video: "+strings.Repeat("x", 100), msg)
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "héllo", Truncate("héllo", 10))
	assert.Equal(t, "hé", Truncate("héllo", 2))
}
