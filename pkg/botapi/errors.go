package botapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
)

// APIError is an error reported by the Bot API.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("bot api error %d", e.Code)
	}
	return fmt.Sprintf("bot api error %d: %s", e.Code, e.Description)
}

// IsNotModified reports the harmless error returned when an edit does not
// change the message text.
func (e *APIError) IsNotModified() bool {
	return e.Code == http.StatusBadRequest && strings.Contains(e.Description, "message is not modified")
}

// classify maps an API error onto the relay error taxonomy: 429 is
// RateLimited, other 4xx are permanent, everything else is transient.
func classify(op string, status int, apiErr *APIError) error {
	code := apiErr.Code
	if code == 0 {
		code = status
	}
	switch {
	case code == http.StatusTooManyRequests:
		wait := apiErr.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		return relayerrors.NewRateLimited(op, wait, apiErr)
	case code >= 400 && code < 500:
		return relayerrors.Wrap(relayerrors.ErrPermanentRejection, op, apiErr)
	default:
		return relayerrors.Wrap(relayerrors.ErrTransientIO, op, apiErr)
	}
}
