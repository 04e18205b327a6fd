package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/mediarelay/internal/cli/output"
	"github.com/marmos91/mediarelay/internal/logger"
	"github.com/marmos91/mediarelay/internal/telemetry"
	"github.com/marmos91/mediarelay/pkg/config"
	"github.com/marmos91/mediarelay/pkg/store"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.Logging.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// loadConfig loads the configuration for one-shot commands. Unlike start,
// they run from defaults and environment when no file exists.
func loadConfig() (*config.Config, error) {
	return config.Load(GetConfigFile())
}

// configSource describes where the configuration was loaded from.
func configSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// watchPath returns the file to watch for changes, or "" when running
// from defaults.
func watchPath(configFile string) string {
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			return configFile
		}
		return ""
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return ""
}

// openStore opens and migrates the preference store.
func openStore(ctx context.Context, cfg *config.Config, metrics store.PoolMetrics) (*store.Pool, error) {
	pool, err := store.New(&cfg.Database, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return pool, nil
}

// initTelemetry starts tracing and profiling and returns one function that
// stops both.
func initTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	tcfg := cfg.Telemetry
	tcfg.ServiceVersion = Version
	traceShutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	pcfg := cfg.Telemetry.Profiling
	pcfg.ServiceVersion = Version
	profilingShutdown, err := telemetry.InitProfiling(pcfg)
	if err != nil {
		_ = traceShutdown(ctx)
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	return func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
		// The caller's context may already be cancelled; flush on a fresh one.
		if err := traceShutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}, nil
}

// printerFor builds a printer from the --output flag value.
func printerFor(format string) (*output.Printer, error) {
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(os.Stdout, f), nil
}
