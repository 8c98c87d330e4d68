package enrichment

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/choiwjun/chamgab-sub000/config"
	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/models"
)

type BreakerConfig struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Guarded runs a provider behind a circuit breaker. Errors, an open circuit
// and missing data all resolve to the provider's defaults.
type Guarded struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker[features.Row]
	logger   *logrus.Logger
}

func NewGuarded(provider Provider, cfg BreakerConfig, logger *logrus.Logger) *Guarded {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	name := provider.Name()
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Warn("Enrichment circuit breaker changed state")
			BreakerState.WithLabelValues(name).Set(float64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData)
		},
	}

	return &Guarded{
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker[features.Row](settings),
		logger:   logger,
	}
}

func (g *Guarded) Name() string { return g.provider.Name() }

func (g *Guarded) Defaults() features.Row { return g.provider.Defaults() }

// State reports the breaker state for diagnostics
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}

// Features never returns an error
func (g *Guarded) Features(ctx context.Context, req Request) (features.Row, error) {
	row, err := g.breaker.Execute(func() (features.Row, error) {
		return g.provider.Features(ctx, req)
	})
	if err == nil {
		return row, nil
	}

	reason := "error"
	switch {
	case errors.Is(err, ErrNoData):
		reason = "no_data"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		reason = "circuit_open"
	default:
		g.logger.WithError(err).WithFields(logrus.Fields{
			"provider": g.provider.Name(),
			"district": req.District,
		}).Warn("Enrichment lookup failed, using defaults")
	}
	FallbackTotal.WithLabelValues(g.provider.Name(), reason).Inc()
	return g.provider.Defaults(), nil
}

// Chain merges the output of several providers. Later providers win on
// overlapping names. It satisfies features.Enricher.
type Chain struct {
	providers []Provider
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

func (c *Chain) Features(ctx context.Context, province, district string, loc *models.Location, at time.Time) features.Row {
	req := Request{Province: province, District: district, Location: loc, At: at}
	row := features.Row{}
	for _, p := range c.providers {
		values, err := p.Features(ctx, req)
		if err != nil {
			values = p.Defaults()
		}
		row.Merge(values)
	}
	return row
}

// Store is everything the built-in providers read from
type Store interface {
	POIStore
	MarketStore
	FootfallStore
}

// NewDefaultChain guards the POI, market and footfall providers with the
// configured breaker settings and chains them in that order
func NewDefaultChain(store Store, cfg *config.Config, logger *logrus.Logger) *Chain {
	breaker := BreakerConfig{
		FailureThreshold: cfg.Enrichment.FailureThreshold,
		OpenTimeout:      time.Duration(cfg.Enrichment.OpenTimeout) * time.Second,
	}
	return NewChain(
		NewGuarded(NewPOIProvider(store, cfg.Enrichment.POIRadiusMeters), breaker, logger),
		NewGuarded(NewMarketProvider(store), breaker, logger),
		NewGuarded(NewFootfallProvider(store), breaker, logger),
	)
}
