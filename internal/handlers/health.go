package handlers

import (
	"context"
	"net/http"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status         string           `json:"status"` // "healthy" or "degraded"
	Version        string           `json:"version"`
	Agents         int64            `json:"agents"`
	QueuedMessages int64            `json:"queuedMessages"`
	Uptime         string           `json:"uptime"`
	Checks         map[string]Check `json:"checks"`
	Timestamp      string           `json:"timestamp"`
}

// Health handles the liveness/readiness probe. Unauthenticated.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	healthy := true

	dbStart := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		checks["sqlite"] = Check{Status: "fail", Message: "connection failed"}
		healthy = false
	} else {
		checks["sqlite"] = Check{Status: "pass", Latency: time.Since(dbStart).String()}
	}

	var agents, queued int64
	if healthy {
		var err error
		if agents, err = h.store.CountAgents(ctx); err != nil {
			checks["sqlite"] = Check{Status: "fail", Message: "query failed"}
			healthy = false
		}
		if queued, err = h.store.CountMessages(ctx); err != nil {
			checks["sqlite"] = Check{Status: "fail", Message: "query failed"}
			healthy = false
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:         status,
		Version:        version,
		Agents:         agents,
		QueuedMessages: queued,
		Uptime:         time.Since(h.startedAt).Round(time.Second).String(),
		Checks:         checks,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Root handles the root endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "agent-relay",
		Version: version,
	})
}
