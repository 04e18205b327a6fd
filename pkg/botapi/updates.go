package botapi

import (
	"context"
	"time"

	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
)

// Update is one incoming event from getUpdates. Only text messages are
// decoded.
type Update struct {
	UpdateID int      `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// GetUpdates long-polls for updates after offset. The poll waits up to
// wait on the server side.
func (c *Client) GetUpdates(ctx context.Context, offset int, wait time.Duration) ([]Update, error) {
	// The request must outlive the server-side poll.
	poll := *c
	poll.timeout = c.timeout + wait

	var updates []Update
	err := poll.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(wait / time.Second),
		"allowed_updates": []string{"message"},
	}, &updates)
	return updates, err
}

// Poll calls handle for every update until ctx is done. Errors are passed
// to onError (if set) and followed by a short pause.
func (c *Client) Poll(ctx context.Context, wait time.Duration, handle func(context.Context, Update), onError func(error)) {
	offset := 0
	for ctx.Err() == nil {
		updates, err := c.GetUpdates(ctx, offset, wait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if onError != nil {
				onError(err)
			}
			pause := time.Second
			if d, ok := relayerrors.RetryAfter(err); ok && d > pause {
				pause = d
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(pause):
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			handle(ctx, u)
		}
	}
}
