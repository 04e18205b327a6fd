package commands

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/marmos91/mediarelay/internal/logger"
	"github.com/marmos91/mediarelay/pkg/botapi"
	"github.com/marmos91/mediarelay/pkg/relay"
	"github.com/marmos91/mediarelay/pkg/tasks"
)

const busyMessage = "⏳ Too many downloads in progress. Please send the link again in a minute."

// worker turns incoming messages into relay tasks.
type worker struct {
	relay  func(ctx context.Context, req relay.Request) (*relay.Outcome, error)
	ledger *tasks.Ledger

	// intake bounds relays that are running or waiting for a gate slot.
	// Nil means unbounded.
	intake *semaphore.Weighted

	// notify replies to a chat when a link is turned away.
	notify func(ctx context.Context, chatID int64, text string) (int, error)
}

func newWorker(run func(context.Context, relay.Request) (*relay.Outcome, error), ledger *tasks.Ledger,
	maxConcurrent, maxQueued int, notify func(context.Context, int64, string) (int, error)) *worker {
	return &worker{
		relay:  run,
		ledger: ledger,
		intake: semaphore.NewWeighted(int64(maxConcurrent + maxQueued)),
		notify: notify,
	}
}

// dispatch starts a relay for the first URL in a private text message.
// Other updates are ignored; command handling lives outside the worker.
func (w *worker) dispatch(ctx context.Context, u botapi.Update) {
	msg := u.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}

	link := extractURL(msg.Text)
	if link == "" {
		return
	}

	req := relay.Request{
		RequestID: uuid.NewString(),
		URL:       link,
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
	}
	logger.Debug("Relay queued",
		logger.KeyRequestID, req.RequestID,
		logger.KeyChatID, req.ChatID,
		logger.KeyURL, req.URL)

	if w.intake != nil && !w.intake.TryAcquire(1) {
		logger.Warn("Relay rejected, intake is full",
			logger.KeyRequestID, req.RequestID,
			logger.KeyChatID, req.ChatID)
		w.reject(ctx, req.ChatID)
		return
	}

	w.ledger.Go("relay:"+req.RequestID, func(ctx context.Context) {
		if w.intake != nil {
			defer w.intake.Release(1)
		}
		// The pipeline reports failures to the chat and logs them.
		_, _ = w.relay(ctx, req)
	})
}

func (w *worker) reject(ctx context.Context, chatID int64) {
	if w.notify == nil {
		return
	}
	if _, err := w.notify(ctx, chatID, busyMessage); err != nil {
		logger.Debug("Failed to send busy reply", logger.KeyChatID, chatID, logger.KeyError, err)
	}
}

// extractURL returns the first http(s) URL in text, or "".
func extractURL(text string) string {
	for _, field := range strings.Fields(text) {
		field = strings.Trim(field, "<>()[]\"'")
		u, err := url.Parse(field)
		if err != nil || u.Host == "" {
			continue
		}
		if u.Scheme == "http" || u.Scheme == "https" {
			return u.String()
		}
	}
	return ""
}
