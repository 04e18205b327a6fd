package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/mediarelay/pkg/gate"
	"github.com/marmos91/mediarelay/pkg/metrics"
	"github.com/marmos91/mediarelay/pkg/relay"
)

// relayMetrics implements both relay.Metrics and gate.Metrics, since the
// gate only ever wraps relay pipelines.
type relayMetrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	bytes         *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	phaseErrors   *prometheus.CounterVec
	inFlight      prometheus.Gauge
}

// RelayMetrics is what NewRelayMetrics returns.
type RelayMetrics interface {
	relay.Metrics
	gate.Metrics
}

// NewRelayMetrics creates Prometheus-backed pipeline and gate metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRelayMetrics() RelayMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &relayMetrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediarelay_relays_total",
				Help: "Total number of relay requests by route and status",
			},
			[]string{"route", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediarelay_relay_duration_seconds",
				Help:    "End-to-end relay duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
			[]string{"route"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediarelay_relay_bytes_total",
				Help: "Total bytes delivered by route",
			},
			[]string{"route"},
		),
		phaseDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediarelay_phase_duration_seconds",
				Help:    "Duration of pipeline phases in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
			},
			[]string{"phase"},
		),
		phaseErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediarelay_phase_errors_total",
				Help: "Total number of failed pipeline phases",
			},
			[]string{"phase"},
		),
		inFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "mediarelay_relays_in_flight",
			Help: "Relay pipelines currently holding a transfer slot",
		}),
	}
}

func (m *relayMetrics) ObserveRelay(route string, size int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if route == "" {
		route = "none"
	}
	m.requests.WithLabelValues(route, metrics.Outcome(err)).Inc()
	m.duration.WithLabelValues(route).Observe(duration.Seconds())
	if err == nil && size > 0 {
		m.bytes.WithLabelValues(route).Add(float64(size))
	}
}

func (m *relayMetrics) ObservePhase(phase string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
	if err != nil {
		m.phaseErrors.WithLabelValues(phase).Inc()
	}
}

func (m *relayMetrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}
