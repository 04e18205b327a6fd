package upload

import (
	"context"
	"time"

	"github.com/marmos91/mediarelay/internal/logger"
	"github.com/marmos91/mediarelay/internal/telemetry"
)

const (
	DefaultKeepAliveInterval = 10 * time.Minute
	MinKeepAliveInterval     = 5 * time.Minute
	MaxKeepAliveInterval     = 30 * time.Minute
)

// KeepAlive returns a task that pings the session every interval and
// reconnects when a ping fails. Failures are logged and never stop the loop.
// The task ends when its context is cancelled.
func (h *SessionHolder) KeepAlive(interval, pingTimeout time.Duration) func(ctx context.Context) {
	if interval <= 0 {
		interval = DefaultKeepAliveInterval
	}
	if pingTimeout <= 0 {
		pingTimeout = 30 * time.Second
	}

	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.ping(ctx, pingTimeout)
			}
		}
	}
}

func (h *SessionHolder) ping(ctx context.Context, timeout time.Duration) {
	ctx, span := telemetry.StartPhaseSpan(ctx, telemetry.SpanKeepAlive)
	defer span.End()

	client, err := h.Current(ctx)
	if err != nil {
		logger.Warn("Keep-alive could not obtain session", logger.KeyComponent, "keepalive", logger.KeyError, err)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	err = client.Ping(pctx)
	cancel()
	if err == nil {
		logger.Debug("Keep-alive ping ok", logger.KeyComponent, "keepalive")
		return
	}
	if ctx.Err() != nil {
		return
	}

	telemetry.RecordError(ctx, err)
	logger.Warn("Keep-alive ping failed, reconnecting", logger.KeyComponent, "keepalive", logger.KeyError, err)
	if _, err := h.Reconnect(ctx, client); err != nil {
		logger.Error("Keep-alive reconnect failed", logger.KeyComponent, "keepalive", logger.KeyError, err)
	}
}
