package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/mediarelay/pkg/metrics"
	"github.com/marmos91/mediarelay/pkg/store"
)

// poolMetrics is the Prometheus implementation of store.PoolMetrics.
type poolMetrics struct {
	acquireWait  prometheus.Histogram
	execDuration *prometheus.HistogramVec
	operations   *prometheus.CounterVec
	timeouts     *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// NewPoolMetrics creates a Prometheus-backed store.PoolMetrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewPoolMetrics() store.PoolMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &poolMetrics{
		acquireWait: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "mediarelay_store_acquire_wait_milliseconds",
				Help: "Time spent waiting for a store connection permit",
				Buckets: []float64{
					0.1,  // free permit
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					500,  // 500ms
					1000, // 1s
					5000, // acquire timeout
				},
			},
		),
		execDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "mediarelay_store_exec_duration_milliseconds",
				Help: "Duration of store operations in milliseconds",
				Buckets: []float64{
					1,     // 1ms - cached reads
					5,     // 5ms
					10,    // 10ms
					50,    // 50ms
					100,   // 100ms - lock contention
					1000,  // 1s
					10000, // exec timeout
				},
			},
			[]string{"operation"},
		),
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediarelay_store_operations_total",
				Help: "Total number of store operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		timeouts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediarelay_store_timeouts_total",
				Help: "Total number of store timeouts by kind",
			},
			[]string{"kind"}, // "acquire", "exec"
		),
		cacheLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediarelay_preference_cache_lookups_total",
				Help: "Preference cache lookups by result",
			},
			[]string{"result"}, // "hit", "miss"
		),
	}
}

func (m *poolMetrics) ObserveAcquire(wait time.Duration) {
	if m == nil {
		return
	}
	m.acquireWait.Observe(wait.Seconds() * 1000)
}

func (m *poolMetrics) ObserveExec(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, metrics.Outcome(err)).Inc()
	m.execDuration.WithLabelValues(op).Observe(duration.Seconds() * 1000)
}

func (m *poolMetrics) RecordTimeout(kind string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(kind).Inc()
}

func (m *poolMetrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
