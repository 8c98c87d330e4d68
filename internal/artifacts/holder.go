package artifacts

import (
	"os"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var reloadTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "chamgab",
		Subsystem: "artifacts",
		Name:      "reload_total",
		Help:      "Artifact reload attempts",
	},
	[]string{"status"},
)

// Holder serves the current bundle. A reload builds and validates the new
// bundle completely before one pointer swap, so readers see either the old
// set or the new one, never a mix.
type Holder struct {
	store   Store
	current atomic.Pointer[Bundle]
	logger  *logrus.Logger
}

func NewHolder(store Store, logger *logrus.Logger) *Holder {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Holder{store: store, logger: logger}
}

// Current returns the bundle being served, or nil before the first load
func (h *Holder) Current() *Bundle {
	return h.current.Load()
}

// Reload loads the store's set and swaps it in. On failure the previous
// bundle stays in place.
func (h *Holder) Reload() (*Bundle, error) {
	set, err := h.store.Load()
	if err != nil {
		reloadTotal.WithLabelValues("failed").Inc()
		h.logger.WithError(err).Error("Failed to load artifacts")
		return nil, err
	}
	return h.Swap(set)
}

// Swap installs an in-memory set
func (h *Holder) Swap(set *Set) (*Bundle, error) {
	bundle, err := NewBundle(set)
	if err != nil {
		reloadTotal.WithLabelValues("failed").Inc()
		h.logger.WithError(err).Error("Rejected artifact set")
		return nil, err
	}

	previous := h.current.Swap(bundle)
	reloadTotal.WithLabelValues("ok").Inc()

	fields := logrus.Fields{
		"version":  set.Version,
		"features": len(set.FeatureNames),
		"strategy": bundle.Strategy.Name(),
		"mape":     set.Residuals.MAPE,
	}
	if previous != nil {
		fields["previous_version"] = previous.Set.Version
	}
	h.logger.WithFields(fields).Info("Artifacts loaded")
	return bundle, nil
}
