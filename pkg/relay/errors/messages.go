package errors

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Messages shown to the requester. Each failure class maps to one short
// text.
const (
	MsgTimeout         = "⏰ Operation timed out - please try again"
	MsgDownloadTimeout = "⏰ Download timeout - please try again"
	MsgSignIn          = "🔒 Video requires sign in - currently unavailable for download"
	MsgUnavailable     = "🚫 Video is unavailable or has been removed"
	MsgPrivate         = "🔒 Video is private and cannot be downloaded"
	MsgAgeRestricted   = "🔞 Video is age-restricted and cannot be downloaded"
	MsgBadResponse     = "🔧 Error processing API response. Please try again later."
	MsgGenericFailure  = "❌ Something went wrong - please try again later"
)

var rejectionMessages = []struct {
	markers []string
	message string
}{
	{[]string{"Sign in required", "Sign in to confirm"}, MsgSignIn},
	{[]string{"Private video"}, MsgPrivate},
	{[]string{"age-restricted"}, MsgAgeRestricted},
	{[]string{"Video unavailable", "Requested format is not available"}, MsgUnavailable},
	{[]string{"Failed to parse", "JSON"}, MsgBadResponse},
}

// RateLimitMessage formats the wait the platform asked for.
func RateLimitMessage(wait float64) string {
	return fmt.Sprintf("⏳ Rate limited. Please wait %d seconds and try again.", int(math.Ceil(wait)))
}

// UserMessage maps err onto the text shown to the requester: a rate limit
// reports its wait, a timeout gets MsgTimeout, anything else fallback (or
// MsgGenericFailure when fallback is empty).
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if wait, ok := RetryAfter(err); ok {
		return RateLimitMessage(wait.Seconds())
	}
	if IsTimedOut(err) || errors.Is(err, context.DeadlineExceeded) {
		return MsgTimeout
	}
	if fallback == "" {
		return MsgGenericFailure
	}
	return fallback
}

// DownloadMessage maps a fetch failure onto a specific reason when the
// fetch tool reported one, otherwise onto a generic text carrying the first
// 100 characters of the failure.
func DownloadMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsTimedOut(err) || errors.Is(err, context.DeadlineExceeded) {
		return MsgDownloadTimeout
	}

	text := errText(err)
	for _, r := range rejectionMessages {
		for _, m := range r.markers {
			if strings.Contains(text, m) {
				return r.message
			}
		}
	}

	detail := text
	var re *RelayError
	if errors.As(err, &re) && re.Message != "" {
		detail = re.Message
	}
	return "❌ Failed to download video: " + Truncate(detail, 100)
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
