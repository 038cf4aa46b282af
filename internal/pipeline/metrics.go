package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricReceives = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthstreamer",
		Subsystem: "pipeline",
		Name:      "receives_total",
		Help:      "Decode engine receive results by status.",
	}, []string{"status"})

	metricPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthstreamer",
		Subsystem: "pipeline",
		Name:      "frames_published_total",
		Help:      "Frames published into the frame store, per decoder slot.",
	}, []string{"slot"})

	metricCloudSwaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "depthstreamer",
		Subsystem: "pipeline",
		Name:      "cloud_swaps_total",
		Help:      "Point cloud double-buffer swaps.",
	})

	metricCloudPoints = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "depthstreamer",
		Subsystem: "pipeline",
		Name:      "cloud_points",
		Help:      "Used points in the most recently published cloud.",
	})

	metricUnprojectRejects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "depthstreamer",
		Subsystem: "pipeline",
		Name:      "unproject_rejects_total",
		Help:      "Unprojection inputs rejected for bad frame formats.",
	})

	metricSnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "depthstreamer",
		Subsystem: "pipeline",
		Name:      "snapshots_total",
		Help:      "Consumer snapshot outcomes.",
	}, []string{"result"})
)
