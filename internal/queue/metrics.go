package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "chamgab",
	Name:      "ingest_queue_depth",
	Help:      "Transaction batches waiting to be stored.",
})
