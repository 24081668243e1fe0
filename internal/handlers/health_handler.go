package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker is implemented by every backing store that can report its state
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]interface{}
}

// HealthHandler handles health check requests
type HealthHandler struct {
	service  string
	version  string
	checkers map[string]HealthChecker
}

// NewHealthHandler creates a new health handler over the named stores
func NewHealthHandler(service, version string, checkers map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{service: service, version: version, checkers: checkers}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string                            `json:"status"`
	Timestamp    time.Time                         `json:"timestamp"`
	Service      string                            `json:"service"`
	Version      string                            `json:"version"`
	Dependencies map[string]map[string]interface{} `json:"dependencies,omitempty"`
}

// HandleHealth processes GET /health requests. Any unhealthy store turns the
// overall status to degraded and the response code to 503.
func (hh *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:       "healthy",
		Timestamp:    time.Now().UTC(),
		Service:      hh.service,
		Version:      hh.version,
		Dependencies: make(map[string]map[string]interface{}, len(hh.checkers)),
	}

	names := make([]string, 0, len(hh.checkers))
	for name := range hh.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		report := hh.checkers[name].HealthCheck(ctx)
		response.Dependencies[name] = report
		if report["status"] != "healthy" {
			response.Status = "degraded"
		}
	}

	statusCode := http.StatusOK
	if response.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
