package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/mediarelay/pkg/api/handlers"
	"github.com/marmos91/mediarelay/pkg/metrics"
)

func TestRouterServesHealth(t *testing.T) {
	router := NewRouter(handlers.NewHealthHandler("mediarelay", nil))

	for _, path := range []string{"/health", "/health/ready"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	metrics.Reset()
	t.Cleanup(metrics.Reset)

	w := httptest.NewRecorder()
	NewRouter(handlers.NewHealthHandler("mediarelay", nil)).
		ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	metrics.InitRegistry()
	w = httptest.NewRecorder()
	NewRouter(handlers.NewHealthHandler("mediarelay", nil)).
		ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
