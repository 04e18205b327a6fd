package progress

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/marmos91/mediarelay/internal/logger"
)

// Messenger is the subset of the Bot HTTP API a Bar needs.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

const (
	DefaultMinInterval = time.Second
	MinMinInterval     = 500 * time.Millisecond
)

// BarOptions tunes a Bar.
type BarOptions struct {
	// MinInterval is the minimum spacing between edits. Defaults to 1s.
	MinInterval time.Duration

	// Now is the clock used by the throttle. Defaults to time.Now.
	Now func() time.Time
}

// Bar is a Reporter that edits a single chat message. Edits are throttled
// to one per MinInterval, except that the first message and 100% are always
// sent.
type Bar struct {
	messenger Messenger
	chatID    int64
	limiter   *rate.Limiter
	now       func() time.Time

	mu        sync.Mutex
	messageID int
	percent   int
	label     string
	lastText  string
	deleted   bool
}

var _ Reporter = (*Bar)(nil)

// NewBar creates a Bar for one request in chatID.
func NewBar(m Messenger, chatID int64, opts BarOptions) *Bar {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bar{
		messenger: m,
		chatID:    chatID,
		limiter:   rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		now:       opts.Now,
	}
}

// Start posts the initial message with label as its text.
func (b *Bar) Start(ctx context.Context, label string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, err := b.messenger.SendMessage(ctx, b.chatID, label)
	if err != nil {
		return fmt.Errorf("send progress message: %w", err)
	}
	b.messageID = id
	b.label = label
	b.lastText = label
	b.deleted = false
	b.limiter.AllowN(b.now(), 1)
	return nil
}

// Update implements Reporter.
func (b *Bar) Update(ctx context.Context, percent int, label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateLocked(ctx, percent, label)
}

// relabel re-renders the current percentage with a new label.
func (b *Bar) relabel(ctx context.Context, label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updateLocked(ctx, b.percent, label)
}

func (b *Bar) updateLocked(ctx context.Context, percent int, label string) {
	if b.deleted {
		return
	}
	b.percent = percent
	b.label = label

	allowed := b.limiter.AllowN(b.now(), 1)
	if !allowed && percent < 100 && b.messageID != 0 {
		return
	}

	text := Render(percent, label)
	if text == b.lastText {
		return
	}

	if b.messageID == 0 {
		id, err := b.messenger.SendMessage(ctx, b.chatID, text)
		if err != nil {
			logger.WarnCtx(ctx, "Failed to send progress message", logger.KeyError, err)
			return
		}
		b.messageID = id
		b.lastText = text
		return
	}

	if err := b.messenger.EditMessageText(ctx, b.chatID, b.messageID, text); err != nil {
		if !isNotModified(err) {
			logger.WarnCtx(ctx, "Failed to update progress message",
				logger.KeyPercent, percent, logger.KeyError, err)
		}
		return
	}
	b.lastText = text
}

// Delete implements Reporter. Updates after Delete are dropped.
func (b *Bar) Delete(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.deleted = true
	if b.messageID == 0 {
		return nil
	}
	id := b.messageID
	b.messageID = 0
	if err := b.messenger.DeleteMessage(ctx, b.chatID, id); err != nil {
		logger.DebugCtx(ctx, "Failed to delete progress message", logger.KeyError, err)
	}
	return nil
}

// Percent returns the last reported percentage.
func (b *Bar) Percent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.percent
}

// Animate returns a task that re-renders the current percentage with an
// elapsed-time suffix every interval. It is meant for phases that produce
// no byte progress, such as remuxing or sending the final message.
func (b *Bar) Animate(label string, interval time.Duration) func(ctx context.Context) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return func(ctx context.Context) {
		start := b.now()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := b.now().Sub(start).Truncate(time.Second)
				b.relabel(ctx, fmt.Sprintf("%s (%s)", label, elapsed))
			}
		}
	}
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}
