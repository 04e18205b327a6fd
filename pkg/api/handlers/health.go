package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Capacity reports transfer slot usage.
type Capacity interface {
	InFlight() int
	Size() int
}

// HealthHandler handles the health endpoints.
//
//   - Liveness: the process is up and serving HTTP
//   - Readiness: every registered dependency check passes
type HealthHandler struct {
	service   string
	startedAt time.Time
	capacity  Capacity
	timeout   time.Duration

	mu     sync.RWMutex
	checks map[string]Check
}

// NewHealthHandler creates a handler for service. capacity may be nil.
func NewHealthHandler(service string, capacity Capacity) *HealthHandler {
	return &HealthHandler{
		service:   service,
		startedAt: time.Now(),
		capacity:  capacity,
		timeout:   5 * time.Second,
		checks:    make(map[string]Check),
	}
}

// Register adds or replaces the readiness check called name.
func (h *HealthHandler) Register(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// LivenessData is the payload of GET /health.
type LivenessData struct {
	Service   string `json:"service"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
	InFlight  int    `json:"in_flight"`
	Capacity  int    `json:"capacity"`
}

// Liveness handles GET /health. It always succeeds while the server responds.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startedAt).Truncate(time.Second)
	data := LivenessData{
		Service:   h.service,
		StartedAt: h.startedAt.UTC().Format(time.RFC3339),
		Uptime:    uptime.String(),
		UptimeSec: int64(uptime.Seconds()),
	}
	if h.capacity != nil {
		data.InFlight = h.capacity.InFlight()
		data.Capacity = h.capacity.Size()
	}
	writeJSON(w, http.StatusOK, healthyResponse(data))
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// Readiness handles GET /health/ready. Checks run concurrently under a
// shared timeout; any failure returns 503 with every result attached.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := make(map[string]Check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := make([]CheckResult, 0, len(checks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			start := time.Now()
			err := check(ctx)

			res := CheckResult{Name: name, Status: "healthy", Latency: time.Since(start).String()}
			if err != nil {
				res.Status = "unhealthy"
				res.Error = err.Error()
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	for _, res := range results {
		if res.Status != "healthy" {
			writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(res.Name+": "+res.Error, results))
			return
		}
	}
	writeJSON(w, http.StatusOK, healthyResponse(results))
}
