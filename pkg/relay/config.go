package relay

import (
	"time"

	"github.com/marmos91/mediarelay/internal/bytesize"
)

// Defaults for Config.
const (
	DefaultSmallFileLimit  = 48 * bytesize.MiB
	DefaultDownloadTimeout = 300 * time.Second
	DefaultUploadTimeout   = 600 * time.Second
	DefaultDoneDelay       = 500 * time.Millisecond
	DefaultAnimateInterval = 3 * time.Second
	DefaultNotifyTimeout   = 10 * time.Second
)

// Config tunes a Pipeline.
type Config struct {
	// SmallFileLimit is the largest file sent through the Bot HTTP API.
	// Anything bigger goes through the persistent session.
	SmallFileLimit bytesize.ByteSize `mapstructure:"small_file_limit" yaml:"small_file_limit"`

	// DownloadTimeout bounds each fetch attempt.
	DownloadTimeout time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`

	// UploadTimeout bounds each upload attempt on either route.
	UploadTimeout time.Duration `mapstructure:"upload_timeout" yaml:"upload_timeout"`

	// DoneDelay is how long the 100% bar stays visible before it is removed.
	DoneDelay time.Duration `mapstructure:"done_delay" yaml:"done_delay"`

	// AnimateInterval is the refresh period of the bar while post-processing.
	AnimateInterval time.Duration `mapstructure:"animate_interval" yaml:"animate_interval"`

	// NotifyTimeout bounds failure notifications and bookkeeping writes,
	// which run even after the request context is done.
	NotifyTimeout time.Duration `mapstructure:"notify_timeout" yaml:"notify_timeout"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.SmallFileLimit == 0 {
		c.SmallFileLimit = DefaultSmallFileLimit
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = DefaultDownloadTimeout
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	if c.DoneDelay <= 0 {
		c.DoneDelay = DefaultDoneDelay
	}
	if c.AnimateInterval <= 0 {
		c.AnimateInterval = DefaultAnimateInterval
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = DefaultNotifyTimeout
	}
}
