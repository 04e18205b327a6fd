package rpc

import (
	"fmt"
	"strings"

	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
)

// ServerError is an error reported by the remote end of the session.
type ServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Server error codes, following the platform's HTTP-like numbering.
const (
	CodeBadRequest   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeFlood        = 420
	CodeInternal     = 500
)

// Classify maps a server error onto the relay taxonomy.
func Classify(op string, err *ServerError) error {
	if wait, ok := relayerrors.ParseFloodWait(err.Message); ok {
		return relayerrors.NewRateLimited(op, wait, err)
	}

	switch {
	case err.Code == CodeUnauthorized,
		strings.Contains(err.Message, "AUTH_KEY_UNREGISTERED"),
		strings.Contains(err.Message, "SESSION_REVOKED"):
		return relayerrors.Wrap(relayerrors.ErrConnectionLoss, op, err)
	case err.Code >= 500:
		return relayerrors.Wrap(relayerrors.ErrTransientIO, op, err)
	case err.Code >= 400:
		return relayerrors.Wrap(relayerrors.ErrPermanentRejection, op, err)
	default:
		return relayerrors.Wrap(relayerrors.ErrTransientIO, op, err)
	}
}
