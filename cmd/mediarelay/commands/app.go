package commands

import (
	"context"
	"fmt"

	"github.com/marmos91/mediarelay/internal/command"
	"github.com/marmos91/mediarelay/internal/logger"
	"github.com/marmos91/mediarelay/pkg/botapi"
	"github.com/marmos91/mediarelay/pkg/config"
	"github.com/marmos91/mediarelay/pkg/fetch"
	"github.com/marmos91/mediarelay/pkg/gate"
	"github.com/marmos91/mediarelay/pkg/metrics/prometheus"
	"github.com/marmos91/mediarelay/pkg/relay"
	"github.com/marmos91/mediarelay/pkg/store"
	"github.com/marmos91/mediarelay/pkg/tasks"
	"github.com/marmos91/mediarelay/pkg/transcode"
	"github.com/marmos91/mediarelay/pkg/upload"
)

// app holds the wired relay components shared by start and relay.
type app struct {
	cfg      *config.Config
	pool     *store.Pool
	gate     *gate.Gate
	ledger   *tasks.Ledger
	session  *upload.SessionHolder
	bot      *botapi.Client
	fetcher  *fetch.Fetcher
	tool     *transcode.Tool
	pipeline *relay.Pipeline
}

// newApp wires every component. Metrics constructors return nil unless
// metrics.InitRegistry was called first.
//
// The ledger is detached from ctx: cancelling ctx stops intake, while
// running relays are drained by shutdown.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	relayMetrics := prometheus.NewRelayMetrics()
	uploadMetrics := prometheus.NewUploadMetrics()

	pool, err := openStore(ctx, cfg, prometheus.NewPoolMetrics())
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		pool:    pool,
		gate:    gate.New(cfg.Transfer.MaxConcurrent, relayMetrics),
		ledger:  tasks.NewLedger(context.WithoutCancel(ctx)),
		session: upload.NewSessionHolder(cfg.Session.Dialer(), uploadMetrics),
		bot:     botapi.New(cfg.BotAPI),
		fetcher: fetch.New(cfg.Tools.Fetch, command.ExecRunner{}),
		tool:    transcode.New(cfg.Tools.Transcode, command.ExecRunner{}),
	}

	uploader := upload.New(a.session, cfg.Session.UploadConfig(), uploadMetrics)

	a.pipeline, err = relay.New(cfg.Transfer.Config, relay.Deps{
		Gate:        a.gate,
		Ledger:      a.ledger,
		Preferences: pool,
		Fetcher:     a.fetcher,
		Preparer:    a.tool,
		Session:     uploader,
		Bot:         a.bot,
		Messenger:   a.bot,
		Retry:       cfg.Retry.Policy(),
		Bar:         cfg.Progress.BarOptions(),
		Metrics:     relayMetrics,
	})
	if err != nil {
		a.ledger.Close()
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return a, nil
}

// checkTools logs the versions of the external binaries. A missing binary
// is reported but does not stop the worker.
func (a *app) checkTools(ctx context.Context) {
	if v, err := a.fetcher.Version(ctx); err != nil {
		logger.Warn("Fetch tool unavailable", "binary", a.cfg.Tools.Fetch.Binary, logger.KeyError, err)
	} else {
		logger.Info("Fetch tool found", "binary", a.cfg.Tools.Fetch.Binary, "version", v)
	}
	if v, err := a.tool.Version(ctx); err != nil {
		logger.Warn("Transcode tool unavailable", logger.KeyError, err)
	} else {
		logger.Info("Transcode tool found", "version", v)
	}
}

// shutdown drains running relays within the configured timeout, then
// closes the session.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.ledger.Shutdown(ctx); err != nil {
		logger.Warn("Relays did not drain before the deadline", logger.KeyError, err)
	}
	a.ledger.Close()

	if err := a.session.Close(); err != nil {
		logger.Debug("Closing session failed", logger.KeyError, err)
	}
}
