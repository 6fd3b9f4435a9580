package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	MessagesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_accepted_total",
			Help: "Total messages accepted for delivery",
		},
	)

	MessagesAcked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_acked_total",
			Help: "Total messages deleted by acknowledgment",
		},
	)

	MessagesEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_evicted_total",
			Help: "Total messages evicted by the per-recipient queue cap",
		},
	)

	ReplaysRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_replays_rejected_total",
			Help: "Total sends rejected for a reused nonce",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_auth_failures_total",
			Help: "Total authentication and authorization failures",
		},
		[]string{"reason"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
