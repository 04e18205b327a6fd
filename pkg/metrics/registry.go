// Package metrics owns the process-wide Prometheus registry. Components
// define their own metrics interfaces and accept nil to disable
// instrumentation; the Prometheus implementations live in the prometheus
// subpackage and return nil until InitRegistry has been called.
//
// Example usage:
//
//	metrics.InitRegistry()
//	pool, err := store.New(cfg, prometheus.NewPoolMetrics())
//
//	// Without metrics (zero overhead)
//	pool, err := store.New(cfg, nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the registry with Go runtime and process collectors.
// Calling it again is a no-op.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry != nil {
		return registry
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Reset drops the registry. Tests use it to start from a clean slate.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
}

// Outcome maps an error onto the "status" label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
