// Package health queries a running worker's health endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Liveness mirrors the GET /health payload.
type Liveness struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      struct {
		Service   string `json:"service"`
		StartedAt string `json:"started_at"`
		Uptime    string `json:"uptime"`
		UptimeSec int64  `json:"uptime_sec"`
		InFlight  int    `json:"in_flight"`
		Capacity  int    `json:"capacity"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// Check mirrors one entry of the GET /health/ready payload.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// Readiness mirrors the GET /health/ready payload.
type Readiness struct {
	Status string  `json:"status"`
	Data   []Check `json:"data"`
	Error  string  `json:"error,omitempty"`
}

// Report combines both probes.
type Report struct {
	Liveness  Liveness  `json:"liveness"`
	Readiness Readiness `json:"readiness"`
}

// Headers implements output.TableRenderer.
func (r *Report) Headers() []string {
	return []string{"Check", "Status", "Latency", "Error"}
}

// Rows implements output.TableRenderer.
func (r *Report) Rows() [][]string {
	rows := make([][]string, 0, len(r.Readiness.Data))
	for _, c := range r.Readiness.Data {
		rows = append(rows, []string{c.Name, c.Status, c.Latency, c.Error})
	}
	return rows
}

// Probe fetches liveness and readiness from baseURL, e.g.
// "http://localhost:9090". An unready worker is not an error; the
// readiness status says so.
func Probe(ctx context.Context, client *http.Client, baseURL string) (*Report, error) {
	if client == nil {
		client = http.DefaultClient
	}
	base := strings.TrimRight(baseURL, "/")

	var report Report
	if err := get(ctx, client, base+"/health", &report.Liveness); err != nil {
		return nil, err
	}
	if err := get(ctx, client, base+"/health/ready", &report.Readiness); err != nil {
		return nil, err
	}
	return &report, nil
}

func get(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("worker unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Join(fmt.Errorf("GET %s: invalid response", url), err)
	}
	return nil
}
