package logger

import (
	"log/slog"
	"time"
)

// Standard field keys. Use them consistently so log lines from the fetch,
// upload and store stages can be joined on request_id and user_id.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Request
	KeyRequestID = "request_id"
	KeyUserID    = "user_id"
	KeyChatID    = "chat_id"
	KeyPhase     = "phase" // download, upload, send, cleanup
	KeyURL       = "url"
	KeyQuality   = "quality"

	// Files and transfers
	KeyPath       = "path"
	KeySize       = "size"
	KeyFileID     = "file_id"
	KeyPart       = "part"
	KeyTotalParts = "total_parts"
	KeyPercent    = "percent"
	KeyMethod     = "method"

	// Retry and lifecycle
	KeyAttempt    = "attempt"
	KeyDelay      = "delay"
	KeyTask       = "task"
	KeyComponent  = "component"
	KeyOperation  = "operation"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
)

// Err returns an error attribute, or an empty attribute for a nil error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Elapsed returns a duration_ms attribute measured from start.
func Elapsed(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}

// Bytes returns a size attribute.
func Bytes(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}
