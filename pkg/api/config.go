package api

import "time"

// Config configures the health and metrics HTTP server.
type Config struct {
	// Port is the HTTP port for /health and /metrics.
	// Default: 9090
	Port int

	// ReadTimeout bounds reading a request. Default: 10s
	ReadTimeout time.Duration

	// WriteTimeout bounds writing a response. Default: 10s
	WriteTimeout time.Duration

	// IdleTimeout bounds keep-alive idling. Default: 60s
	IdleTimeout time.Duration
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}
