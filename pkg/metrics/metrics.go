// Package metrics provides Prometheus collectors for trellis builds, panel
// rendering and view computation.
//
// # Overview
//
// Collectors are registered with the default registry on package load
// through promauto, so any process that exposes /metrics picks them up.
//
// # Basic Usage
//
//	// Record a rendered panel
//	metrics.PanelsRendered.WithLabelValues("png", metrics.StatusSuccess).Inc()
//
//	// Track view computation latency
//	timer := metrics.NewTimer("compute_view")
//	page := state.Compute(frame, s)
//	metrics.ComputeViewLatency.Observe(float64(timer.Stop().Nanoseconds()))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

var (
	// BuildsTotal counts display builds.
	// Labels: status (success/failure)
	BuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_builds_total",
			Help: "Total number of display builds",
		},
		[]string{"status"},
	)

	// PanelsRendered counts panel assets by detected format.
	// Labels: format (png/html/...; empty on failure), status (success/failure)
	//
	// Example:
	//	metrics.PanelsRendered.WithLabelValues("png", metrics.StatusSuccess).Inc()
	PanelsRendered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_panels_rendered_total",
			Help: "Total number of panel render attempts",
		},
		[]string{"format", "status"},
	)

	// RenderRetries counts renders repeated under an explicit retry policy
	RenderRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trellis_render_retries_total",
			Help: "Total number of panel render retries",
		},
	)

	// SerializeLatency tracks how long writing a display takes, in seconds
	SerializeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trellis_serialize_duration_seconds",
			Help:    "Display serialization duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ComputeViewLatency tracks the distribution of view computation latencies
	// in nanoseconds. A view over 100k rows should stay well under a second.
	ComputeViewLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "trellis_compute_view_latency_nanoseconds",
			Help: "View computation latency in nanoseconds",
			Buckets: []float64{
				1e4, // 10μs - tiny tables
				1e5, // 100μs
				1e6, // 1ms - thousands of rows
				1e7, // 10ms
				1e8, // 100ms - 100k rows with sorts
				1e9, // 1s
			},
		},
	)

	// MatchingRows reports the matching row count of the latest view per display
	MatchingRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trellis_matching_rows",
			Help: "Rows matching the latest computed view",
		},
		[]string{"display"},
	)

	// ViewOperations counts Views Store calls.
	// Labels: operation (save/load/delete/list), status (success/failure)
	ViewOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trellis_view_operations_total",
			Help: "Total number of named view operations",
		},
		[]string{"operation", "status"},
	)
)

// Status maps an error to a status label value
func Status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's name
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It can be called
// more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
