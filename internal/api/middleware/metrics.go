package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentrelay/relay/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(wrapped.status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(duration)
	})
}

// normalizePath collapses path parameters to avoid high cardinality in metrics.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/registry/agents/") && strings.HasSuffix(path, "/approve"):
		return "/registry/agents/:name/approve"
	case strings.HasPrefix(path, "/registry/agents/") && strings.HasSuffix(path, "/revoke"):
		return "/registry/agents/:name/revoke"
	case strings.HasPrefix(path, "/relay/inbox/") && strings.HasSuffix(path, "/ack"):
		return "/relay/inbox/:agent/ack"
	case strings.HasPrefix(path, "/relay/inbox/"):
		return "/relay/inbox/:agent"
	}
	return path
}
