package upload

import (
	"context"
	"fmt"

	"github.com/marmos91/mediarelay/internal/logger"
	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
	"github.com/marmos91/mediarelay/pkg/rpc"
)

// SendMedia sends a message referencing files uploaded on the current
// session. It is not retried here: uploaded parts do not outlive the session
// they were saved on, so after a connection loss the caller must upload again
// (see Deliver).
func (u *Uploader) SendMedia(ctx context.Context, chatID int64, media rpc.Media) error {
	_, err := u.sendMedia(ctx, chatID, media)
	return err
}

// sendMedia returns the client it used so a caller can reconnect it.
func (u *Uploader) sendMedia(ctx context.Context, chatID int64, media rpc.Media) (rpc.Client, error) {
	client, err := u.session.Current(ctx)
	if err != nil {
		return nil, err
	}
	return client, client.SendMedia(ctx, chatID, media)
}

// Delivery describes one file to relay over the session.
type Delivery struct {
	ChatID    int64
	Path      string
	ThumbPath string // optional
	Media     rpc.Media
}

// Deliver uploads the file and its thumbnail, then sends the message. The
// thumbnail is best effort: if it fails to upload the media goes out without
// it. When the session drops during the send, everything is uploaded again
// under new file ids on the new session, bounded by Config.MaxReconnects.
func (u *Uploader) Deliver(ctx context.Context, d Delivery, progress ProgressFunc) error {
	var highWater int64
	report := func(done, total int64) {
		if progress != nil && done > highWater {
			highWater = done
			progress(done, total)
		}
	}

	for restarts := 0; ; restarts++ {
		media, err := u.uploadDelivery(ctx, d, report)
		if err != nil {
			return err
		}

		client, err := u.sendMedia(ctx, d.ChatID, media)
		if err == nil {
			return nil
		}
		if !relayerrors.IsConnectionLoss(err) || ctx.Err() != nil || client == nil {
			return fmt.Errorf("send media: %w", err)
		}
		if restarts >= u.config.MaxReconnects {
			return fmt.Errorf("send media abandoned after %d reconnects: %w", restarts, err)
		}

		logger.WarnCtx(ctx, "Session lost while sending media, uploading again",
			logger.KeyAttempt, restarts+1, logger.KeyError, err)
		if _, err := u.session.Reconnect(ctx, client); err != nil {
			return fmt.Errorf("reconnect before resend: %w", err)
		}
	}
}

// uploadDelivery uploads the media file and the optional thumbnail and
// returns the message referencing them.
func (u *Uploader) uploadDelivery(ctx context.Context, d Delivery, progress ProgressFunc) (rpc.Media, error) {
	file, err := u.UploadFile(ctx, d.Path, KindMedia, progress)
	if err != nil {
		return rpc.Media{}, fmt.Errorf("upload media: %w", err)
	}

	media := d.Media
	media.File = file
	media.Thumb = nil

	if d.ThumbPath != "" {
		thumb, err := u.UploadFile(ctx, d.ThumbPath, KindThumbnail, nil)
		if err != nil {
			if relayerrors.IsRateLimited(err) {
				return rpc.Media{}, fmt.Errorf("upload thumbnail: %w", err)
			}
			logger.WarnCtx(ctx, "Thumbnail upload failed, sending without it",
				logger.KeyPath, d.ThumbPath, logger.KeyError, err)
		} else {
			media.Thumb = &thumb
		}
	}
	return media, nil
}
