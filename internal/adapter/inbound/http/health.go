package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/seclens/seclens/internal/domain/session"
)

// HealthResponse is the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health.
type HealthChecker struct {
	sessions *session.Manager
	version  string
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that
// aren't available.
func NewHealthChecker(sessions *session.Manager, version string) *HealthChecker {
	return &HealthChecker{sessions: sessions, version: version}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(r *http.Request) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.sessions != nil {
		// Stats hits the backing store; a hung store fails the check.
		stats, err := h.sessions.Stats(r.Context())
		if err != nil {
			checks["session_store"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["session_store"] = fmt.Sprintf("ok: %d active", stats.Active)
		}
	} else {
		checks["session_store"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r)

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
