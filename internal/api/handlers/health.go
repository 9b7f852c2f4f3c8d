// health.go implements the gateway's health endpoints.
// /health/live  - liveness probe (process is up)
// /health/ready - readiness probe (dependencies, see internal/healthmonitor)
// /metrics      - Prometheus metrics
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/icatgateway/gateway/internal/config"
)

// ReadinessChecker reports the gateway's dependency health.
type ReadinessChecker interface {
	// Health returns the status of every configured dependency, keyed by
	// dependency name.
	Health() map[string]bool
}

// HealthHandler serves the gateway's health endpoints.
type HealthHandler struct {
	checker     ReadinessChecker
	promHandler http.Handler
}

// NewHealthHandler builds a health endpoint handler. checker may be nil, in which
// case readiness always reports "fail".
func NewHealthHandler(checker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		checker:     checker,
		promHandler: promhttp.Handler(),
	}
}

// healthLiveResponse is the liveness probe's response body.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse is the readiness probe's response body.
type healthReadyResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Version   string          `json:"version"`
	Service   string          `json:"service"`
	Checks    map[string]bool `json:"checks"`
}

// HealthLive is the liveness probe: it reports 200 as long as the process is up.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "icat-gateway",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady is the readiness probe: it checks every registered dependency (the
// ICAT catalogue and, when backend=relational, PostgreSQL) and reports 200 only
// if all of them are reachable, 503 otherwise.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "icat-gateway",
		Checks:    map[string]bool{},
	}

	allOK := h.checker != nil
	if h.checker != nil {
		resp.Checks = h.checker.Health()
		for _, ok := range resp.Checks {
			if !ok {
				allOK = false
			}
		}
	}

	if allOK {
		resp.Status = "ok"
	} else {
		resp.Status = "fail"
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == "fail" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// GetMetrics serves the gateway's Prometheus metrics.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}
