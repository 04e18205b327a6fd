package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/mediarelay/internal/bytesize"
	"github.com/marmos91/mediarelay/internal/logger"
	"github.com/marmos91/mediarelay/internal/telemetry"
	"github.com/marmos91/mediarelay/pkg/botapi"
	"github.com/marmos91/mediarelay/pkg/fetch"
	"github.com/marmos91/mediarelay/pkg/progress"
	"github.com/marmos91/mediarelay/pkg/relay"
	"github.com/marmos91/mediarelay/pkg/retry"
	"github.com/marmos91/mediarelay/pkg/rpc"
	"github.com/marmos91/mediarelay/pkg/store"
	"github.com/marmos91/mediarelay/pkg/transcode"
	"github.com/marmos91/mediarelay/pkg/upload"
)

// EnvPrefix prefixes every environment override, e.g.
// MEDIARELAY_BOTAPI_TOKEN or MEDIARELAY_LOGGING_LEVEL.
const EnvPrefix = "MEDIARELAY"

// Config is the mediarelay worker configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (MEDIARELAY_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains the Prometheus and health endpoint configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for running relays to
	// drain on shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the preference store, its connection permits
	// and the preference cache.
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Retry is the policy shared by download and upload attempts
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// Transfer bounds concurrent pipelines and picks the upload route
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`

	// Session configures the persistent-session RPC used for large files
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// BotAPI configures the HTTP Bot API used for messages and small files
	BotAPI botapi.Config `mapstructure:"botapi" yaml:"botapi"`

	// Tools locates the external fetch and transcode binaries
	Tools ToolsConfig `mapstructure:"tools" yaml:"tools"`

	// Progress tunes the progress message throttle
	Progress ProgressConfig `mapstructure:"progress" yaml:"progress"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// LoggerConfig converts to the logger package's configuration.
func (c LoggingConfig) LoggerConfig() logger.Config {
	return logger.Config{Level: c.Level, Format: c.Format, Output: c.Output}
}

// MetricsConfig configures the Prometheus metrics and health HTTP server.
// When Enabled is false, no metrics are collected (zero overhead) but the
// health endpoints are still served.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for /metrics and /health
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// RetryConfig is the canonical retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1,lte=10" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gt=0" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay" yaml:"max_delay"`
}

// Policy returns the retry policy template for the pipeline.
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
	}
}

// TransferConfig bounds concurrent pipelines and embeds the relay tuning.
type TransferConfig struct {
	// MaxConcurrent is the number of relays allowed to run at once
	// Default: 3
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"gte=1" yaml:"max_concurrent"`

	// MaxQueued is how many relays may wait for a free slot. Links arriving
	// beyond that get a "busy" reply instead of queueing.
	// Default: 20
	MaxQueued int `mapstructure:"max_queued" validate:"gte=1" yaml:"max_queued"`

	relay.Config `mapstructure:",squash" yaml:",inline"`
}

// SessionConfig configures the persistent-session transport.
type SessionConfig struct {
	// Endpoint is the ws:// or wss:// session URL
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url" yaml:"endpoint"`

	// Token authenticates the session. Defaults to the Bot API token.
	Token   string `mapstructure:"token" yaml:"token,omitempty"`
	AppID   int    `mapstructure:"app_id" yaml:"app_id,omitempty"`
	AppHash string `mapstructure:"app_hash" yaml:"app_hash,omitempty"`

	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// KeepAlive is the ping period, between 5m and 30m
	// Default: 10m
	KeepAlive   time.Duration `mapstructure:"keepalive" yaml:"keepalive"`
	PingTimeout time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`

	// MaxReconnects bounds full restarts of one upload after connection loss
	MaxReconnects int `mapstructure:"max_reconnects" validate:"gte=0" yaml:"max_reconnects"`

	MediaPartSize     bytesize.ByteSize `mapstructure:"media_part_size" yaml:"media_part_size"`
	ThumbnailPartSize bytesize.ByteSize `mapstructure:"thumbnail_part_size" yaml:"thumbnail_part_size"`
	PartTimeout       time.Duration     `mapstructure:"part_timeout" yaml:"part_timeout"`
}

// Dialer builds the websocket dialer for the session.
func (c SessionConfig) Dialer() *rpc.WSDialer {
	return &rpc.WSDialer{
		Endpoint:         c.Endpoint,
		Token:            c.Token,
		AppID:            c.AppID,
		AppHash:          c.AppHash,
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
	}
}

// UploadConfig converts to the uploader's configuration.
func (c SessionConfig) UploadConfig() upload.Config {
	return upload.Config{
		MediaPartSize:     int(c.MediaPartSize),
		ThumbnailPartSize: int(c.ThumbnailPartSize),
		MaxReconnects:     c.MaxReconnects,
		PartTimeout:       c.PartTimeout,
	}
}

// ToolsConfig locates the external binaries.
type ToolsConfig struct {
	Fetch     fetch.Config     `mapstructure:"fetch" yaml:"fetch"`
	Transcode transcode.Config `mapstructure:"transcode" yaml:"transcode"`
}

// ProgressConfig tunes the progress bar.
type ProgressConfig struct {
	// MinInterval is the minimum spacing between edits, 500ms to 1s
	// Default: 1s
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
}

// BarOptions converts to progress bar options.
func (c ProgressConfig) BarOptions() progress.BarOptions {
	return progress.BarOptions{MinInterval: c.MinInterval}
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MEDIARELAY_*)
//  2. Configuration file
//  3. Default values
//
// A missing configuration file is not an error: defaults and environment
// overrides are used.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := registerDefaults(v); err != nil {
		return nil, err
	}

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  mediarelay init\n\n"+
				"Or specify a custom config file:\n"+
				"  mediarelay <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  mediarelay init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold the bot token.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: MEDIARELAY_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/mediarelay/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// registerDefaults feeds every default value to viper. Besides providing
// fallbacks, this makes every key known to viper so AutomaticEnv can
// override keys the config file does not mention.
func registerDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}

	defaults := viper.New()
	defaults.SetConfigType("yaml")
	if err := defaults.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to read defaults: %w", err)
	}
	for _, key := range defaults.AllKeys() {
		v.SetDefault(key, defaults.Get(key))
	}
	return nil
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Explicit config file that doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use human-readable
// sizes like "48MiB", "512Ki", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mediarelay")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "mediarelay")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
