// Package errors defines the failure taxonomy shared by every stage of a relay:
// the store, the retry executor, the session transport and the uploaders.
// It is a leaf package with no internal dependencies.
//
// Import graph: errors <- store, retry, rpc, botapi <- upload <- relay
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrorCode identifies the kind of failure.
type ErrorCode int

const (
	// ErrAcquireTimeout indicates no pool permit became available in time.
	ErrAcquireTimeout ErrorCode = iota + 1

	// ErrExecutionTimeout indicates a permit was held but the operation
	// did not finish within its execution budget.
	ErrExecutionTimeout

	// ErrConnectionLoss indicates the persistent session dropped or went stale.
	ErrConnectionLoss

	// ErrRateLimited indicates the platform asked us to wait. RetryAfter is set.
	ErrRateLimited

	// ErrTransientIO covers recoverable network and subprocess failures.
	ErrTransientIO

	// ErrPermanentRejection indicates a request that will never succeed as-is.
	ErrPermanentRejection

	// ErrTimedOut indicates a retry attempt exceeded its outer deadline.
	ErrTimedOut
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrAcquireTimeout:
		return "AcquireTimeout"
	case ErrExecutionTimeout:
		return "ExecutionTimeout"
	case ErrConnectionLoss:
		return "ConnectionLoss"
	case ErrRateLimited:
		return "RateLimited"
	case ErrTransientIO:
		return "TransientIO"
	case ErrPermanentRejection:
		return "PermanentRejection"
	case ErrTimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// RelayError is the typed error carried through the pipeline.
type RelayError struct {
	Code ErrorCode

	// Op names the operation that failed (e.g. "save_big_file_part").
	Op string

	Message string

	// RetryAfter is the platform-mandated wait. Only set for ErrRateLimited.
	RetryAfter time.Duration

	Err error
}

func (e *RelayError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Code.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// Is matches another *RelayError with the same code, so callers can write
// errors.Is(err, &RelayError{Code: ErrTimedOut}).
func (e *RelayError) Is(target error) bool {
	t, ok := target.(*RelayError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Op == "" || t.Op == e.Op)
}

// New creates a RelayError without an underlying cause.
func New(code ErrorCode, op, message string) *RelayError {
	return &RelayError{Code: code, Op: op, Message: message}
}

// Wrap attaches a code to an underlying error.
func Wrap(code ErrorCode, op string, err error) *RelayError {
	return &RelayError{Code: code, Op: op, Err: err}
}

// NewAcquireTimeout reports a pool permit wait that ran out.
func NewAcquireTimeout(op string, waited time.Duration) *RelayError {
	return &RelayError{
		Code:    ErrAcquireTimeout,
		Op:      op,
		Message: fmt.Sprintf("no connection permit within %s", waited),
	}
}

// NewExecutionTimeout reports an operation that overran its execution budget.
func NewExecutionTimeout(op string, budget time.Duration) *RelayError {
	return &RelayError{
		Code:    ErrExecutionTimeout,
		Op:      op,
		Message: fmt.Sprintf("operation exceeded %s", budget),
	}
}

// NewRateLimited reports a flood-control rejection with its mandated wait.
func NewRateLimited(op string, wait time.Duration, cause error) *RelayError {
	return &RelayError{
		Code:       ErrRateLimited,
		Op:         op,
		Message:    fmt.Sprintf("retry after %s", wait),
		RetryAfter: wait,
		Err:        cause,
	}
}

// NewTimedOut reports a retry attempt that exceeded its deadline.
func NewTimedOut(op string, attempt int, deadline time.Duration) *RelayError {
	return &RelayError{
		Code:    ErrTimedOut,
		Op:      op,
		Message: fmt.Sprintf("attempt %d exceeded %s", attempt, deadline),
	}
}

// CodeOf returns the code of the first RelayError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Code, true
	}
	return 0, false
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsTimedOut reports whether err is a retry deadline failure, as opposed to
// the operation itself failing.
func IsTimedOut(err error) bool {
	return Is(err, ErrTimedOut)
}

// IsRateLimited reports whether err is a flood-control rejection.
func IsRateLimited(err error) bool {
	if Is(err, ErrRateLimited) {
		return true
	}
	_, ok := ParseFloodWait(errText(err))
	return ok
}

// RetryAfter extracts the mandated wait from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var re *RelayError
	if errors.As(err, &re) && re.Code == ErrRateLimited {
		return re.RetryAfter, true
	}
	return ParseFloodWait(errText(err))
}

var floodWaitPattern = regexp.MustCompile(`FLOOD_WAIT_(\d+)`)

// ParseFloodWait extracts N seconds from a "FLOOD_WAIT_N" server message.
func ParseFloodWait(msg string) (time.Duration, bool) {
	m := floodWaitPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// Substrings the session transport and its peers use for a dropped or
// invalidated connection.
var connectionLossMarkers = []string{
	"connection reset",
	"read 0 bytes",
	"broken pipe",
	"use of closed network connection",
	"websocket: close",
	"unexpected eof",
	"auth_key_unregistered",
	"session_revoked",
	"stale session",
}

// IsConnectionLoss reports whether err means the persistent session has to
// be re-established before further calls can succeed.
func IsConnectionLoss(err error) bool {
	if err == nil {
		return false
	}
	if c, ok := CodeOf(err); ok {
		return c == ErrConnectionLoss
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range connectionLossMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsRetryable is the default retry classification: rate limits and permanent
// rejections are terminal, everything else may succeed on a later attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimited(err) {
		return false
	}
	return !Is(err, ErrPermanentRejection)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
