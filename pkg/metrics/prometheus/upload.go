package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/mediarelay/pkg/metrics"
	"github.com/marmos91/mediarelay/pkg/upload"
)

// uploadMetrics is the Prometheus implementation of upload.Metrics.
type uploadMetrics struct {
	partsTotal     prometheus.Counter
	partBytes      prometheus.Counter
	partDuration   prometheus.Histogram
	uploadsTotal   *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec
	uploadBytes    *prometheus.HistogramVec
	reconnects     prometheus.Counter
}

// NewUploadMetrics creates a Prometheus-backed upload.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() upload.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &uploadMetrics{
		partsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mediarelay_upload_parts_total",
			Help: "Total number of acknowledged upload parts",
		}),
		partBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mediarelay_upload_part_bytes_total",
			Help: "Total bytes sent in acknowledged upload parts",
		}),
		partDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "mediarelay_upload_part_duration_milliseconds",
			Help: "Round trip of one upload part in milliseconds",
			Buckets: []float64{
				10,    // 10ms - local endpoints
				50,    // 50ms
				100,   // 100ms
				250,   // 250ms - typical 512KiB part
				500,   // 500ms
				1000,  // 1s
				5000,  // 5s - congested link
				30000, // 30s
			},
		}),
		uploadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediarelay_uploads_total",
				Help: "Total number of file uploads by kind and status",
			},
			[]string{"kind", "status"},
		),
		uploadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediarelay_upload_duration_seconds",
				Help:    "Duration of whole file uploads in seconds",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		),
		uploadBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "mediarelay_upload_bytes",
				Help: "Distribution of uploaded file sizes",
				Buckets: []float64{
					131072,     // 128KB - thumbnails
					1048576,    // 1MB
					10485760,   // 10MB
					52428800,   // 50MB - Bot API limit
					209715200,  // 200MB
					1073741824, // 1GB
					2147483648, // 2GB - session limit
				},
			},
			[]string{"kind"},
		),
		reconnects: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mediarelay_session_reconnects_total",
			Help: "Total number of persistent session reconnects",
		}),
	}
}

func (m *uploadMetrics) ObservePart(bytes int, duration time.Duration) {
	if m == nil {
		return
	}
	m.partsTotal.Inc()
	m.partBytes.Add(float64(bytes))
	m.partDuration.Observe(duration.Seconds() * 1000)
}

func (m *uploadMetrics) ObserveUpload(kind string, bytes int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(kind, metrics.Outcome(err)).Inc()
	m.uploadDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err == nil && bytes > 0 {
		m.uploadBytes.WithLabelValues(kind).Observe(float64(bytes))
	}
}

func (m *uploadMetrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
