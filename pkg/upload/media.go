package upload

import (
	"context"

	"github.com/marmos91/mediarelay/pkg/rpc"
	"github.com/marmos91/mediarelay/pkg/transcode"
)

// SendPrepared uploads a file readied by transcode.Tool.Prepare and sends
// it as a streamable video or, for audio, as a track. The thumbnail and
// probed metadata are attached when present.
func (u *Uploader) SendPrepared(ctx context.Context, chatID int64, p *transcode.Prepared, caption string, progress ProgressFunc) error {
	media := rpc.Media{
		MimeType: transcode.MIMEType(p.Path, p.Audio),
		Caption:  caption,
		Duration: p.Meta.Duration,
	}

	thumb := ""
	if p.Audio {
		media.Kind = rpc.MediaAudio
	} else {
		media.Kind = rpc.MediaVideo
		media.Width = p.Meta.Width
		media.Height = p.Meta.Height
		media.SupportsStreaming = true
		thumb = p.ThumbPath
	}

	return u.Deliver(ctx, Delivery{
		ChatID:    chatID,
		Path:      p.Path,
		ThumbPath: thumb,
		Media:     media,
	}, progress)
}
