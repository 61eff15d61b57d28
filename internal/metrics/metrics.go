// Package metrics exposes Prometheus instruments for extraction runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesDecodedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyframer_frames_decoded_total",
		Help: "Total number of frames decoded across all runs",
	})

	KeyFramesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyframer_keyframes_written_total",
		Help: "Total number of key-frame images written",
	})

	DegenerateSimilarityTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyframer_degenerate_similarity_total",
		Help: "Frames whose similarity to the running centroid was undefined",
	})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyframer_runs_total",
		Help: "Total number of extraction runs, by status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keyframer_stage_duration_seconds",
		Help:    "Duration of each extraction stage",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"stage"})
)
