package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleeky_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleeky_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	RoomsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleeky_rooms_created_total",
			Help: "Total rooms created",
		},
		[]string{"visibility"},
	)

	RoomsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleeky_rooms_deleted_total",
			Help: "Total rooms deleted",
		},
	)

	JoinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleeky_room_joins_total",
			Help: "Total room join attempts",
		},
		[]string{"kind", "outcome"}, // kind: "code" or "public"
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleeky_messages_sent_total",
			Help: "Total messages sent",
		},
	)

	// Subscription metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleeky_active_sessions",
			Help: "Currently open client sessions",
		},
	)
)
