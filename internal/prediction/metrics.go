package prediction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	predictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chamgab",
			Subsystem: "prediction",
			Name:      "requests_total",
			Help:      "Prediction requests by outcome",
		},
		[]string{"outcome"},
	)

	predictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chamgab",
			Subsystem: "prediction",
			Name:      "duration_seconds",
			Help:      "Time to produce one estimate",
			Buckets:   prometheus.DefBuckets,
		},
	)

	confidenceHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chamgab",
			Subsystem: "prediction",
			Name:      "confidence",
			Help:      "Confidence scores of served estimates",
			Buckets:   []float64{0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95},
		},
	)
)
