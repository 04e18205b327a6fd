package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fixedCapacity struct{ inFlight, size int }

func (c fixedCapacity) InFlight() int { return c.inFlight }
func (c fixedCapacity) Size() int     { return c.size }

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestLiveness_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler("mediarelay", fixedCapacity{inFlight: 2, size: 3})
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	resp := decode(t, w)
	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", resp.Status)
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	if data["service"] != "mediarelay" {
		t.Errorf("Expected service 'mediarelay', got '%v'", data["service"])
	}
	if data["in_flight"] != float64(2) || data["capacity"] != float64(3) {
		t.Errorf("Expected in_flight 2 of 3, got %v of %v", data["in_flight"], data["capacity"])
	}
}

func TestLiveness_NilCapacity(t *testing.T) {
	handler := NewHealthHandler("mediarelay", nil)
	w := httptest.NewRecorder()

	handler.Liveness(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestReadiness_NoChecks_ReturnsOK(t *testing.T) {
	handler := NewHealthHandler("mediarelay", nil)
	w := httptest.NewRecorder()

	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestReadiness_AllHealthy(t *testing.T) {
	handler := NewHealthHandler("mediarelay", nil)
	handler.Register("database", func(ctx context.Context) error { return nil })
	handler.Register("botapi", func(ctx context.Context) error { return nil })
	w := httptest.NewRecorder()

	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	resp := decode(t, w)
	results, ok := resp.Data.([]interface{})
	if !ok || len(results) != 2 {
		t.Fatalf("Expected 2 check results, got %v", resp.Data)
	}
	first := results[0].(map[string]interface{})
	if first["name"] != "botapi" {
		t.Errorf("Expected results sorted by name, got %v first", first["name"])
	}
}

func TestReadiness_FailingCheck_Returns503(t *testing.T) {
	handler := NewHealthHandler("mediarelay", nil)
	handler.Register("database", func(ctx context.Context) error { return nil })
	handler.Register("session", func(ctx context.Context) error { return errors.New("dial refused") })
	w := httptest.NewRecorder()

	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	resp := decode(t, w)
	if resp.Status != "unhealthy" {
		t.Errorf("Expected status 'unhealthy', got '%s'", resp.Status)
	}
	if resp.Error != "session: dial refused" {
		t.Errorf("Expected error 'session: dial refused', got '%s'", resp.Error)
	}
}

func TestReadiness_CheckTimeout(t *testing.T) {
	handler := NewHealthHandler("mediarelay", nil)
	handler.timeout = 20 * time.Millisecond
	handler.Register("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	w := httptest.NewRecorder()

	handler.Readiness(w, httptest.NewRequest("GET", "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}
