package features

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TemporalFallbackTotal counts inference lookups resolved to the fallback values
	TemporalFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chamgab",
			Subsystem: "features",
			Name:      "temporal_fallback_total",
			Help:      "Temporal feature lookups that used fallback values",
		},
		[]string{"reason"},
	)
)
