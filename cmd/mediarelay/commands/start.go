package commands

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/mediarelay/internal/logger"
	"github.com/marmos91/mediarelay/internal/telemetry"
	"github.com/marmos91/mediarelay/pkg/api"
	"github.com/marmos91/mediarelay/pkg/api/handlers"
	"github.com/marmos91/mediarelay/pkg/config"
	"github.com/marmos91/mediarelay/pkg/metrics"
)

// pollWait is the server-side long-poll duration for updates.
const pollWait = 30 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay worker",
	Long: `Start the relay worker in the foreground.

The worker long-polls the Bot API for messages, relays every URL it finds
to the sender's chat, keeps the upload session alive and serves health
probes (and Prometheus metrics when enabled) on the metrics port.

On SIGINT or SIGTERM the worker stops taking new messages and waits up to
shutdown_timeout for running relays to finish.

Examples:
  # Start with the default config location
  mediarelay start

  # Start with a custom config file
  mediarelay start --config /etc/mediarelay/config.yaml

  # Start with environment variable overrides
  MEDIARELAY_LOGGING_LEVEL=DEBUG mediarelay start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := config.RequireTransport(cfg); err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	fmt.Println("mediarelay - media relay worker")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", configSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	// Metrics must be initialized before the components that record them.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.shutdown()

	a.checkTools(ctx)

	me, err := a.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify bot token: %w", err)
	}
	logger.Info("Bot API ready", "username", me.Username)

	keepAlive := a.ledger.Go("session-keepalive", a.session.KeepAlive(cfg.Session.KeepAlive, cfg.Session.PingTimeout))
	defer keepAlive.Cancel()

	var services sync.WaitGroup

	server := api.NewServer(api.Config{Port: cfg.Metrics.Port}, newHealthHandler(a))
	services.Add(1)
	go func() {
		defer services.Done()
		if err := server.Start(ctx); err != nil {
			logger.Error("Health server error", logger.KeyError, err)
		}
	}()

	if path := watchPath(GetConfigFile()); path != "" {
		services.Add(1)
		go func() {
			defer services.Done()
			err := config.Watch(ctx, path, func(next *config.Config) {
				if next.Logging.Level != logger.GetLevel() {
					logger.Info("Log level changed", "level", next.Logging.Level)
					logger.SetLevel(next.Logging.Level)
				}
			})
			if err != nil {
				logger.Warn("Config watcher stopped", logger.KeyError, err)
			}
		}()
	}

	w := newWorker(a.pipeline.Handle, a.ledger, cfg.Transfer.MaxConcurrent, cfg.Transfer.MaxQueued, a.bot.SendMessage)
	logger.Info("Worker is running. Press Ctrl+C to stop.",
		"max_concurrent", a.gate.Size(),
		"max_queued", cfg.Transfer.MaxQueued,
		"small_file_limit", cfg.Transfer.SmallFileLimit.String())

	a.bot.Poll(ctx, pollWait, w.dispatch, func(err error) {
		logger.Warn("Polling updates failed", logger.KeyError, err)
	})

	// Restore default signal handling so a second Ctrl+C skips the drain.
	stop()
	logger.Info("Shutdown signal received, draining relays", "running", a.ledger.Len())
	services.Wait()
	return nil
}

// newHealthHandler registers a readiness check per external dependency.
func newHealthHandler(a *app) *handlers.HealthHandler {
	h := handlers.NewHealthHandler("mediarelay", a.gate)
	h.Register("database", a.pool.Healthcheck)
	h.Register("botapi", func(ctx context.Context) error {
		_, err := a.bot.GetMe(ctx)
		return err
	})
	h.Register("session", func(ctx context.Context) error {
		client, err := a.session.Current(ctx)
		if err != nil {
			return err
		}
		return client.Ping(ctx)
	})
	return h
}
