package upload

import (
	"context"
	"errors"
	"sync"

	"github.com/marmos91/mediarelay/internal/logger"
	"github.com/marmos91/mediarelay/pkg/rpc"
)

// ErrSessionClosed is returned after the holder has been closed.
var ErrSessionClosed = errors.New("session holder closed")

// SessionHolder owns the process-wide persistent session. Callers take the
// current handle with Current and, when a call on it fails with a connection
// loss, pass that same handle to Reconnect. Only the first caller presenting
// a given stale handle re-dials; the others receive the replacement.
type SessionHolder struct {
	dialer  rpc.Dialer
	metrics Metrics

	mu         sync.Mutex
	client     rpc.Client
	generation uint64
	closed     bool
}

// NewSessionHolder creates a holder that dials lazily.
func NewSessionHolder(dialer rpc.Dialer, metrics Metrics) *SessionHolder {
	return &SessionHolder{dialer: dialer, metrics: metrics}
}

// Current returns the live session, dialing one if none exists yet.
func (h *SessionHolder) Current(ctx context.Context) (rpc.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrSessionClosed
	}
	if h.client != nil {
		return h.client, nil
	}
	return h.dialLocked(ctx)
}

// Reconnect replaces stale with a fresh session. If stale was already
// replaced by a concurrent caller, the replacement is returned without
// dialing again.
func (h *SessionHolder) Reconnect(ctx context.Context, stale rpc.Client) (rpc.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrSessionClosed
	}
	if h.client != nil && h.client != stale {
		return h.client, nil
	}

	if h.client != nil {
		if err := h.client.Close(); err != nil {
			logger.Debug("Closing stale session failed", logger.KeyComponent, "session", logger.KeyError, err)
		}
		h.client = nil
	}

	if h.metrics != nil {
		h.metrics.RecordReconnect()
	}
	logger.Info("Reconnecting persistent session", logger.KeyComponent, "session", "generation", h.generation+1)
	return h.dialLocked(ctx)
}

// Generation counts successful dials. Useful for tests and diagnostics.
func (h *SessionHolder) Generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation
}

// Close closes the current session. Further calls fail with ErrSessionClosed.
func (h *SessionHolder) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	if h.client == nil {
		return nil
	}
	err := h.client.Close()
	h.client = nil
	return err
}

func (h *SessionHolder) dialLocked(ctx context.Context) (rpc.Client, error) {
	client, err := h.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	h.client = client
	h.generation++
	return client, nil
}
