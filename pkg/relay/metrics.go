package relay

import "time"

// Routes a relay can take.
const (
	RouteBotAPI  = "botapi"
	RouteSession = "session"
)

// Metrics receives pipeline observations. A nil Metrics disables
// instrumentation.
type Metrics interface {
	// ObserveRelay records one finished request. route is empty when the
	// request failed before a route was chosen.
	ObserveRelay(route string, size int64, duration time.Duration, err error)

	// ObservePhase records one pipeline phase (download, prepare, upload).
	ObservePhase(phase string, duration time.Duration, err error)
}
