package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCounter counts HTTP requests by status code, method, and route
	RequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "op_bracket_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"status", "method", "route"},
	)

	// RequestDuration measures HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "op_bracket_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status", "method", "route"},
	)

	// MatchesCompleted counts accepted results by path (player or admin)
	MatchesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "op_bracket_matches_completed_total",
			Help: "Total number of accepted match results",
		},
		[]string{"path"},
	)

	RoundsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "op_bracket_rounds_generated_total",
			Help: "Total number of generated bracket rounds",
		},
	)

	// ConcurrencyAnomalies counts compare-and-swap losses by operation
	ConcurrencyAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "op_bracket_concurrency_anomalies_total",
			Help: "Total number of detected concurrent writes",
		},
		[]string{"operation"},
	)

	TimelineFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "op_bracket_timeline_append_failures_total",
			Help: "Total number of timeline entries that could not be written",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "op_bracket_events_dropped_total",
			Help: "Total number of domain events dropped before delivery",
		},
		[]string{"kind"},
	)

	TournamentsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "op_bracket_tournaments_archived_total",
			Help: "Total number of archived tournaments",
		},
	)

	TournamentsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "op_bracket_tournaments_pruned_total",
			Help: "Total number of pruned tournaments",
		},
	)
)
