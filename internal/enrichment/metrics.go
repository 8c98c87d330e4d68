package enrichment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chamgab",
			Subsystem: "enrichment",
			Name:      "fallback_total",
			Help:      "Enrichment lookups answered with provider defaults",
		},
		[]string{"provider", "reason"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chamgab",
			Subsystem: "enrichment",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per enrichment provider",
		},
		[]string{"provider"},
	)
)
