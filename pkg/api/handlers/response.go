package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the envelope of every health endpoint.
//
//   - Status is "healthy" or "unhealthy"
//   - Timestamp is the UTC time the response was built
//   - Data carries the endpoint payload
//   - Error explains an unhealthy status
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are sent; an encode failure cannot be reported to the client.
	_ = json.NewEncoder(w).Encode(data)
}

func healthyResponse(data any) Response {
	return Response{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthyResponse(errMsg string, data any) Response {
	return Response{Status: "unhealthy", Timestamp: time.Now().UTC(), Data: data, Error: errMsg}
}
