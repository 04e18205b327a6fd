package config

import (
	"strings"
	"time"

	"github.com/marmos91/mediarelay/internal/telemetry"
	"github.com/marmos91/mediarelay/pkg/botapi"
	"github.com/marmos91/mediarelay/pkg/gate"
	"github.com/marmos91/mediarelay/pkg/progress"
	"github.com/marmos91/mediarelay/pkg/retry"
	"github.com/marmos91/mediarelay/pkg/store"
	"github.com/marmos91/mediarelay/pkg/upload"
)

// DefaultMaxQueued is the default number of relays waiting for a slot.
const DefaultMaxQueued = 20

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	cfg.Database.ApplyDefaults()
	applyRetryDefaults(&cfg.Retry)
	applyTransferDefaults(&cfg.Transfer)
	applySessionDefaults(&cfg.Session, cfg.BotAPI.Token)
	cfg.BotAPI.ApplyDefaults()
	cfg.Tools.Fetch.ApplyDefaults()
	cfg.Tools.Transcode.ApplyDefaults()
	applyProgressDefaults(&cfg.Progress)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults fills tracing and profiling fields from
// telemetry.DefaultConfig. Enabled flags stay opt-in.
func applyTelemetryDefaults(cfg *telemetry.Config) {
	def := telemetry.DefaultConfig()

	if cfg.ServiceName == "" {
		cfg.ServiceName = def.ServiceName
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}

	if cfg.Profiling.ServiceName == "" {
		cfg.Profiling.ServiceName = def.Profiling.ServiceName
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = def.Profiling.Endpoint
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = def.Profiling.ProfileTypes
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults. The port is always set since
// the health endpoints share the server.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyRetryDefaults(cfg *RetryConfig) {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = retry.DefaultMaxAttempts
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = retry.DefaultBaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = retry.DefaultMaxDelay
	}
}

func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = gate.DefaultSize
	}
	if cfg.MaxQueued == 0 {
		cfg.MaxQueued = DefaultMaxQueued
	}
	cfg.Config.ApplyDefaults()
}

// applySessionDefaults sets session defaults. The session authenticates
// with the bot token unless a dedicated one is configured.
func applySessionDefaults(cfg *SessionConfig, botToken string) {
	if cfg.Token == "" {
		cfg.Token = botToken
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = upload.DefaultKeepAliveInterval
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 30 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = upload.DefaultMaxReconnects
	}
	if cfg.MediaPartSize == 0 {
		cfg.MediaPartSize = upload.DefaultMediaPartSize
	}
	if cfg.ThumbnailPartSize == 0 {
		cfg.ThumbnailPartSize = upload.DefaultThumbnailPartSize
	}
	if cfg.PartTimeout == 0 {
		cfg.PartTimeout = upload.DefaultPartTimeout
	}
}

func applyProgressDefaults(cfg *ProgressConfig) {
	if cfg.MinInterval == 0 {
		cfg.MinInterval = progress.DefaultMinInterval
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite,
		},
		BotAPI: botapi.Config{
			BaseURL: botapi.DefaultBaseURL,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
