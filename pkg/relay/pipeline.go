// Package relay runs the end-to-end pipeline for one request: fetch the
// media, prepare it, and deliver it to the requester over the Bot HTTP API
// (small files) or the persistent session (large files), while keeping a
// single progress message up to date.
package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/marmos91/mediarelay/internal/logger"
	"github.com/marmos91/mediarelay/internal/telemetry"
	"github.com/marmos91/mediarelay/pkg/botapi"
	"github.com/marmos91/mediarelay/pkg/fetch"
	"github.com/marmos91/mediarelay/pkg/gate"
	"github.com/marmos91/mediarelay/pkg/progress"
	relayerrors "github.com/marmos91/mediarelay/pkg/relay/errors"
	"github.com/marmos91/mediarelay/pkg/retry"
	"github.com/marmos91/mediarelay/pkg/store"
	"github.com/marmos91/mediarelay/pkg/tasks"
	"github.com/marmos91/mediarelay/pkg/transcode"
	"github.com/marmos91/mediarelay/pkg/upload"
)

// Progress labels and bar positions.
const (
	labelStarting    = "🎬 Starting..."
	labelDownloading = "📥 Downloading..."
	labelProcessing  = "⚙️ Processing..."
	labelUploadStart = "📤 Starting upload..."
	labelDone        = "✅ Done!"

	sessionUploadStart = 85
)

// Fallback texts used when a failure carries no more specific message.
const (
	msgUploadFailed = "❌ Upload failed - please try again later"
	msgSendFailed   = "❌ Send failed after retries"
)

var sessionUploadRange = progress.Range{From: sessionUploadStart, To: 99}

// Preferences is the part of the store the pipeline uses.
type Preferences interface {
	GetUserQuality(ctx context.Context, userID int64) store.Quality
	TouchUser(ctx context.Context, userID int64) error
	LogDownload(ctx context.Context, userID int64, url string) error
}

// Fetcher downloads a URL to a local file.
type Fetcher interface {
	Download(ctx context.Context, url string, q store.Quality, onProgress func(fetch.Progress)) (string, error)
}

// Preparer readies a downloaded file for upload.
type Preparer interface {
	Prepare(ctx context.Context, path string, audio bool) *transcode.Prepared
}

// SessionSender delivers large files over the persistent session.
type SessionSender interface {
	SendPrepared(ctx context.Context, chatID int64, p *transcode.Prepared, caption string, progress upload.ProgressFunc) error
}

// BotSender delivers small files over the Bot HTTP API.
type BotSender interface {
	SendVideo(ctx context.Context, up botapi.MediaUpload, progress botapi.ProgressFunc) error
	SendAudio(ctx context.Context, up botapi.MediaUpload, progress botapi.ProgressFunc) error
}

// Deps are the collaborators of a Pipeline. Metrics is optional.
type Deps struct {
	Gate        *gate.Gate
	Ledger      *tasks.Ledger
	Preferences Preferences
	Fetcher     Fetcher
	Preparer    Preparer
	Session     SessionSender
	Bot         BotSender
	Messenger   progress.Messenger

	// Retry is the template policy for download and upload attempts. Op and
	// AttemptTimeout are set per phase.
	Retry retry.Policy

	Bar     progress.BarOptions
	Metrics Metrics
}

// Request is one URL to relay to one chat.
type Request struct {
	RequestID string
	URL       string
	ChatID    int64
	UserID    int64

	// Caption defaults to the URL.
	Caption string
}

// Outcome describes a request that got as far as choosing a route.
type Outcome struct {
	Route   string
	Quality store.Quality
	Path    string
	Size    int64
}

// Pipeline relays requests. It is safe for concurrent use; concurrency is
// bounded by the gate.
type Pipeline struct {
	config Config
	deps   Deps

	newReporter func(chatID int64) progress.Reporter
}

// New validates deps and returns a Pipeline.
func New(config Config, deps Deps) (*Pipeline, error) {
	config.ApplyDefaults()

	switch {
	case deps.Gate == nil:
		return nil, errors.New("relay: gate is required")
	case deps.Ledger == nil:
		return nil, errors.New("relay: task ledger is required")
	case deps.Preferences == nil:
		return nil, errors.New("relay: preferences are required")
	case deps.Fetcher == nil:
		return nil, errors.New("relay: fetcher is required")
	case deps.Preparer == nil:
		return nil, errors.New("relay: preparer is required")
	case deps.Session == nil, deps.Bot == nil:
		return nil, errors.New("relay: both upload routes are required")
	case deps.Messenger == nil:
		return nil, errors.New("relay: messenger is required")
	}

	p := &Pipeline{config: config, deps: deps}
	p.newReporter = func(chatID int64) progress.Reporter {
		return progress.NewBar(deps.Messenger, chatID, deps.Bar)
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// Handle relays one request. The gate is acquired before any network I/O
// and held until cleanup is done. Failures are reported to the chat before
// being returned.
func (p *Pipeline) Handle(ctx context.Context, req Request) (*Outcome, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Caption == "" {
		req.Caption = req.URL
	}

	start := time.Now()
	ctx, span := telemetry.StartRelaySpan(ctx, req.RequestID, req.UserID, req.ChatID, req.URL)
	defer span.End()

	lc := logger.NewLogContext(req.RequestID, req.UserID, req.ChatID).
		WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	release, err := p.deps.Gate.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire transfer slot: %w", err)
	}
	defer release()

	logger.InfoCtx(ctx, "Relay started", logger.KeyURL, req.URL)

	out, err := p.run(ctx, req)

	var route string
	var size int64
	if out != nil {
		route, size = out.Route, out.Size
		telemetry.SetAttributes(ctx, telemetry.Path(route), telemetry.Size(size))
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveRelay(route, size, time.Since(start), err)
	}

	if err != nil {
		telemetry.RecordError(ctx, err)
		telemetry.SetAttributes(ctx, telemetry.Outcome("failed"))
		logger.WarnCtx(ctx, "Relay failed", logger.Err(err), logger.Elapsed(start))
		return out, err
	}
	telemetry.SetAttributes(ctx, telemetry.Outcome("delivered"))
	logger.InfoCtx(ctx, "Relay finished", "route", route, logger.Bytes(size), logger.Elapsed(start))
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Outcome, error) {
	prefs := p.deps.Preferences
	if err := prefs.TouchUser(ctx, req.UserID); err != nil {
		logger.WarnCtx(ctx, "Failed to record user activity", logger.Err(err))
	}

	bar := progress.NewMonotonic(p.newReporter(req.ChatID))
	if err := bar.Start(ctx, labelStarting); err != nil {
		logger.WarnCtx(ctx, "Failed to post progress message", logger.Err(err))
	}

	quality := prefs.GetUserQuality(ctx, req.UserID)
	audio := quality == store.QualityAudio

	path, err := p.download(ctx, req, quality, bar)
	if err != nil {
		p.fail(ctx, req.ChatID, bar, relayerrors.DownloadMessage(err))
		return nil, err
	}
	defer p.remove(ctx, path)

	info, err := os.Stat(path)
	if err != nil {
		p.fail(ctx, req.ChatID, bar, relayerrors.MsgGenericFailure)
		return nil, fmt.Errorf("stat downloaded file: %w", err)
	}

	out := &Outcome{Quality: quality, Path: path, Size: info.Size()}

	prepared := p.prepare(ctx, req, path, audio, bar)
	defer prepared.Cleanup()

	var fallback string
	if out.Size > int64(p.config.SmallFileLimit) {
		out.Route, fallback = RouteSession, msgUploadFailed
		err = p.sendSession(ctx, req, prepared, bar)
	} else {
		out.Route, fallback = RouteBotAPI, msgSendFailed
		err = p.sendBot(ctx, req, prepared, bar)
	}

	if err != nil {
		p.fail(ctx, req.ChatID, bar, relayerrors.UserMessage(err, fallback))
	} else {
		p.finish(ctx, bar)
	}

	p.logDownload(ctx, req)
	return out, err
}

func (p *Pipeline) download(ctx context.Context, req Request, q store.Quality, bar progress.Reporter) (string, error) {
	ctx = logger.Phase(ctx, "download")
	ctx, span := telemetry.StartPhaseSpan(ctx, telemetry.SpanFetch, telemetry.URL(req.URL), telemetry.Quality(string(q)))
	defer span.End()

	start := time.Now()
	path, err := retry.Do(ctx, p.policy("fetch", p.config.DownloadTimeout), func(ctx context.Context) (string, error) {
		return p.deps.Fetcher.Download(ctx, req.URL, q, func(pr fetch.Progress) {
			label := labelDownloading
			if pr.Total != "" {
				label = fmt.Sprintf("%s (%s)", labelDownloading, pr.Total)
			}
			bar.Update(ctx, progress.DownloadRange.ScalePercent(pr.Percent), label)
		})
	})
	p.observePhase("download", start, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", err
	}
	logger.DebugCtx(ctx, "Download finished", logger.KeyPath, path, logger.Elapsed(start))
	return path, nil
}

// prepare runs remux, probe and thumbnail extraction while the bar animates
// at the end of the download range.
func (p *Pipeline) prepare(ctx context.Context, req Request, path string, audio bool, bar *progress.Monotonic) *transcode.Prepared {
	ctx = logger.Phase(ctx, "prepare")
	ctx, span := telemetry.StartPhaseSpan(ctx, telemetry.SpanPrepare)
	defer span.End()

	bar.Update(ctx, progress.DownloadRange.To, labelProcessing)
	anim := p.deps.Ledger.Go("animate:"+req.RequestID, bar.Animate(labelProcessing, p.config.AnimateInterval))
	defer func() {
		anim.Cancel()
		<-anim.Done()
	}()

	start := time.Now()
	prepared := p.deps.Preparer.Prepare(ctx, path, audio)
	p.observePhase("prepare", start, nil)
	return prepared
}

func (p *Pipeline) sendSession(ctx context.Context, req Request, prep *transcode.Prepared, bar progress.Reporter) error {
	ctx = logger.Phase(ctx, "upload")
	ctx, span := telemetry.StartPhaseSpan(ctx, telemetry.SpanUpload, telemetry.Path(RouteSession))
	defer span.End()

	bar.Update(ctx, sessionUploadStart, labelUploadStart)

	start := time.Now()
	_, err := retry.Do(ctx, p.policy("session_upload", p.config.UploadTimeout), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.deps.Session.SendPrepared(ctx, req.ChatID, prep, req.Caption, func(sent, total int64) {
			bar.Update(ctx, sessionUploadRange.Scale(sent, total), uploadLabel(sent, total))
		})
	})
	p.observePhase("upload", start, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}

func (p *Pipeline) sendBot(ctx context.Context, req Request, prep *transcode.Prepared, bar progress.Reporter) error {
	ctx = logger.Phase(ctx, "upload")
	ctx, span := telemetry.StartPhaseSpan(ctx, telemetry.SpanUpload, telemetry.Path(RouteBotAPI))
	defer span.End()

	up := botapi.MediaUpload{
		ChatID:    req.ChatID,
		Path:      prep.Path,
		ThumbPath: prep.ThumbPath,
		Caption:   req.Caption,
		Duration:  prep.Meta.Duration,
		Width:     prep.Meta.Width,
		Height:    prep.Meta.Height,
	}
	send := p.deps.Bot.SendVideo
	if prep.Audio {
		send = p.deps.Bot.SendAudio
	}

	start := time.Now()
	_, err := retry.Do(ctx, p.policy("bot_upload", p.config.UploadTimeout), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, send(ctx, up, func(sent, total int64) {
			bar.Update(ctx, progress.UploadRange.Scale(sent, total), uploadLabel(sent, total))
		})
	})
	p.observePhase("upload", start, err)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}

// finish shows 100% briefly, then removes the bar.
func (p *Pipeline) finish(ctx context.Context, bar progress.Reporter) {
	bar.Update(ctx, 100, labelDone)

	t := time.NewTimer(p.config.DoneDelay)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
	}

	dctx, cancel := p.detached(ctx)
	defer cancel()
	_ = bar.Delete(dctx)
}

// fail removes the bar and tells the requester what went wrong. It runs
// even when ctx is already done.
func (p *Pipeline) fail(ctx context.Context, chatID int64, bar progress.Reporter, text string) {
	dctx, cancel := p.detached(ctx)
	defer cancel()

	_ = bar.Delete(dctx)
	if _, err := p.deps.Messenger.SendMessage(dctx, chatID, text); err != nil {
		logger.WarnCtx(dctx, "Failed to send failure notice", logger.Err(err))
	}
}

// logDownload records the request. Store errors are only logged.
func (p *Pipeline) logDownload(ctx context.Context, req Request) {
	dctx, cancel := p.detached(ctx)
	defer cancel()

	prefs := p.deps.Preferences
	if err := prefs.TouchUser(dctx, req.UserID); err != nil {
		logger.WarnCtx(dctx, "Failed to update user activity", logger.Err(err))
	}
	if err := prefs.LogDownload(dctx, req.UserID, req.URL); err != nil {
		logger.WarnCtx(dctx, "Failed to log download", logger.Err(err))
	}
}

func (p *Pipeline) remove(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WarnCtx(ctx, "Failed to remove downloaded file", logger.KeyPath, path, logger.Err(err))
	}
}

func (p *Pipeline) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.config.NotifyTimeout)
}

func (p *Pipeline) policy(op string, timeout time.Duration) retry.Policy {
	pol := p.deps.Retry
	pol.Op = op
	pol.AttemptTimeout = timeout
	if pol.OnRetry == nil {
		pol.OnRetry = func(attempt int, delay time.Duration, err error) {
			logger.Warn("Retrying", logger.KeyOperation, op, logger.KeyAttempt, attempt,
				logger.KeyDelay, delay.String(), logger.Err(err))
		}
	}
	return pol
}

func (p *Pipeline) observePhase(phase string, start time.Time, err error) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObservePhase(phase, time.Since(start), err)
	}
}

func uploadLabel(sent, total int64) string {
	if total <= 0 {
		return "📤 Uploading..."
	}
	return fmt.Sprintf("📤 Uploading... %s / %s", humanize.Bytes(uint64(sent)), humanize.Bytes(uint64(total)))
}
