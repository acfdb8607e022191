package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure|blocked).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learntrack_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks sessions that are neither expired nor revoked.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "learntrack_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// CourseCompletions counts completion toggles by direction (complete|uncomplete).
	CourseCompletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learntrack_course_completions_total",
			Help: "Total number of course completion state changes",
		},
		[]string{"direction"},
	)

	// LevelTransitions counts computed level changes by direction (up|down).
	LevelTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learntrack_level_transitions_total",
			Help: "Total number of user level transitions",
		},
		[]string{"direction"},
	)

	// APILatency observes request latency by method, route, and status.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "learntrack_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// IPBlocks counts blocks created by the threat heuristic or administrators.
	IPBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learntrack_ip_blocks_total",
			Help: "Total number of IP blocks created",
		},
		[]string{"source"},
	)
)
