package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global metrics, registered on the default registry by promauto.

var (
	// EdgesTotal counts stream edges by what happened to them:
	// applied, unchanged, late, out_of_window, duplicate, ignored, filtered, malformed.
	EdgesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorpath_edges_total",
			Help: "Total number of stream edges processed, by outcome",
		},
		[]string{"query", "outcome"},
	)

	// MatchesTotal counts emitted path matches.
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorpath_matches_total",
			Help: "Total number of path matches emitted",
		},
		[]string{"query"},
	)

	// WindowAdvancesTotal counts window slides.
	WindowAdvancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorpath_window_advances_total",
			Help: "Total number of window advances",
		},
		[]string{"query"},
	)

	// IngestDuration measures the time to apply a single edge.
	// Buckets run from a cheap filtered edge to a large expansion.
	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kektorpath_ingest_duration_seconds",
			Help:    "Duration of edge ingestion in seconds",
			Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		},
		[]string{"query"},
	)

	// FrontierEntries tracks live frontier entries across all trees.
	FrontierEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kektorpath_frontier_entries",
			Help: "Number of live frontier entries",
		},
		[]string{"query", "worker"},
	)

	// WindowEdges tracks edges held in the window graph.
	WindowEdges = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kektorpath_window_edges",
			Help: "Number of edges in the current window",
		},
		[]string{"query", "worker"},
	)

	// HTTPRequestsTotal counts requests served by the metrics endpoint.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektorpath_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks HTTP latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kektorpath_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
