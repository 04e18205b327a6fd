// Package upload sends files over the persistent session in fixed-size parts.
//
// A part upload is not resumable across sessions: when the session drops the
// uploader reconnects, draws a new file id and starts again from part 0. The
// number of restarts is bounded by Config.MaxReconnects.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/mediarelay/internal/logger"
	"github.com/marmos91/mediarelay/pkg/bufpool"
	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
	"github.com/marmos91/mediarelay/pkg/rpc"
)

// Kind selects the part size for a file.
type Kind int

const (
	KindMedia Kind = iota
	KindThumbnail
)

func (k Kind) String() string {
	if k == KindThumbnail {
		return "thumbnail"
	}
	return "media"
}

const (
	DefaultMediaPartSize     = 512 * 1024
	DefaultThumbnailPartSize = 128 * 1024
	DefaultMaxReconnects     = 3
	DefaultPartTimeout       = 60 * time.Second

	// MaxPartSize is the largest part the session server accepts.
	MaxPartSize = 512 * 1024
)

// Config controls part sizing and recovery.
type Config struct {
	MediaPartSize     int
	ThumbnailPartSize int

	// MaxReconnects bounds how many times one upload restarts after a
	// connection loss.
	MaxReconnects int

	// PartTimeout bounds a single part call.
	PartTimeout time.Duration
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.MediaPartSize <= 0 {
		c.MediaPartSize = DefaultMediaPartSize
	}
	if c.ThumbnailPartSize <= 0 {
		c.ThumbnailPartSize = DefaultThumbnailPartSize
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = DefaultMaxReconnects
	}
	if c.PartTimeout <= 0 {
		c.PartTimeout = DefaultPartTimeout
	}
}

// ProgressFunc is called after each acknowledged part with the bytes
// uploaded so far and the file size. Calls never report fewer bytes than a
// previous call for the same upload, even across restarts.
type ProgressFunc func(uploaded, total int64)

// Uploader splits files into parts and sends them over a SessionHolder.
type Uploader struct {
	session *SessionHolder
	config  Config
	metrics Metrics

	// newFileID draws a fresh upload token. Replaced in tests.
	newFileID func() int64
}

// New creates an Uploader.
func New(session *SessionHolder, config Config, metrics Metrics) *Uploader {
	config.ApplyDefaults()
	return &Uploader{
		session:   session,
		config:    config,
		metrics:   metrics,
		newFileID: rand.Int64,
	}
}

// Session returns the holder the uploader sends through.
func (u *Uploader) Session() *SessionHolder {
	return u.session
}

func (u *Uploader) partSize(kind Kind) int {
	if kind == KindThumbnail {
		return u.config.ThumbnailPartSize
	}
	return u.config.MediaPartSize
}

// UploadFile uploads the file at path and returns a reference usable in
// SendMedia. Connection losses trigger a reconnect and a full restart; any
// other failure is returned immediately.
func (u *Uploader) UploadFile(ctx context.Context, path string, kind Kind, progress ProgressFunc) (rpc.InputFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return rpc.InputFile{}, fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return rpc.InputFile{}, fmt.Errorf("stat upload source: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return rpc.InputFile{}, relayerrors.New(relayerrors.ErrPermanentRejection, "upload_file", "file is empty")
	}

	partSize := u.partSize(kind)
	totalParts := int((size + int64(partSize) - 1) / int64(partSize))
	plan := partPlan{
		src:        f,
		size:       size,
		partSize:   partSize,
		totalParts: totalParts,
		big:        totalParts > 1,
	}

	start := time.Now()
	var highWater int64
	report := func(uploaded int64) {
		if progress != nil && uploaded > highWater {
			highWater = uploaded
			progress(uploaded, size)
		}
	}

	client, err := u.session.Current(ctx)
	if err != nil {
		return rpc.InputFile{}, err
	}

	for restarts := 0; ; restarts++ {
		fileID := u.newFileID()
		err = u.sendParts(ctx, client, plan, fileID, report)
		if err == nil {
			u.observe(kind, size, start, nil)
			logger.DebugCtx(ctx, "Upload complete",
				logger.KeyFileID, fileID,
				logger.KeyTotalParts, totalParts,
				logger.KeySize, size,
				logger.KeyDurationMs, logger.Duration(start))
			return rpc.InputFile{
				ID:    fileID,
				Parts: totalParts,
				Name:  filepath.Base(path),
				Big:   plan.big,
			}, nil
		}

		if !relayerrors.IsConnectionLoss(err) || ctx.Err() != nil {
			u.observe(kind, size, start, err)
			return rpc.InputFile{}, err
		}
		if restarts >= u.config.MaxReconnects {
			u.observe(kind, size, start, err)
			return rpc.InputFile{}, fmt.Errorf("upload abandoned after %d reconnects: %w", restarts, err)
		}

		logger.WarnCtx(ctx, "Session lost during upload, restarting from first part",
			logger.KeyFileID, fileID, logger.KeyAttempt, restarts+1, logger.KeyError, err)

		client, err = u.session.Reconnect(ctx, client)
		if err != nil {
			u.observe(kind, size, start, err)
			return rpc.InputFile{}, fmt.Errorf("reconnect during upload: %w", err)
		}
	}
}

type partPlan struct {
	src        io.ReaderAt
	size       int64
	partSize   int
	totalParts int
	big        bool
}

// sendParts uploads parts 0..totalParts-1 in order under fileID.
func (u *Uploader) sendParts(ctx context.Context, client rpc.Client, plan partPlan, fileID int64, report func(int64)) error {
	buf := bufpool.Get(plan.partSize)
	defer bufpool.Put(buf)
	var uploaded int64

	for part := 0; part < plan.totalParts; part++ {
		offset := int64(part) * int64(plan.partSize)
		n, err := plan.src.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return fmt.Errorf("read part %d: %w", part, err)
		}
		data := buf[:n]

		partStart := time.Now()
		pctx, cancel := context.WithTimeout(ctx, u.config.PartTimeout)
		if plan.big {
			err = client.SaveBigFilePart(pctx, fileID, part, plan.totalParts, data)
		} else {
			err = client.SaveFilePart(pctx, fileID, part, data)
		}
		cancel()
		if err != nil {
			// A part that hangs past its deadline on a healthy parent context
			// means the session is wedged.
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return relayerrors.Wrap(relayerrors.ErrConnectionLoss, "save_part", err)
			}
			return err
		}

		if u.metrics != nil {
			u.metrics.ObservePart(n, time.Since(partStart))
		}
		uploaded += int64(n)
		report(uploaded)
	}
	return nil
}

func (u *Uploader) observe(kind Kind, size int64, start time.Time, err error) {
	if u.metrics != nil {
		u.metrics.ObserveUpload(kind.String(), size, time.Since(start), err)
	}
}
