package upload

import "time"

// Metrics receives upload observations. A nil Metrics disables
// instrumentation.
type Metrics interface {
	ObservePart(bytes int, duration time.Duration)
	ObserveUpload(kind string, bytes int64, duration time.Duration, err error)
	RecordReconnect()
}
