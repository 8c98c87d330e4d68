package training

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	trainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chamgab",
		Name:      "training_runs_total",
		Help:      "Training runs by outcome.",
	}, []string{"outcome"})

	trainingDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chamgab",
		Name:      "training_duration_seconds",
		Help:      "Duration of the last successful training run.",
	})
)
