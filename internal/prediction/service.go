// Package prediction answers "what is this property worth" for one
// property at a time, using the artifact set currently being served.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/choiwjun/chamgab-sub000/internal/artifacts"
	"github.com/choiwjun/chamgab-sub000/internal/database"
	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/models"
)

const DefaultTopFactors = 5

// PropertyStore is the read side of the store the service needs
type PropertyStore interface {
	GetProperty(ctx context.Context, id int64) (*models.Property, error)
	SimilarTransactions(ctx context.Context, p *models.Property, districts []string, areaMin, areaMax float64, limit int) ([]models.Transaction, error)
}

// BundleSource hands out the artifact bundle to use for a request
type BundleSource interface {
	Current() *artifacts.Bundle
}

type Config struct {
	Temporal   features.TemporalConfig
	TopFactors int
}

// Service produces estimates. It is safe for concurrent use.
type Service struct {
	store    PropertyStore
	bundles  BundleSource
	history  features.TransactionHistory
	enricher features.Enricher
	keys     *features.DistrictKeys
	config   Config
	now      func() time.Time
	logger   *logrus.Logger

	mu        sync.Mutex
	bundle    *artifacts.Bundle
	assembler *features.FeatureAssembler
}

func NewService(store PropertyStore, bundles BundleSource, history features.TransactionHistory, enricher features.Enricher, keys *features.DistrictKeys, cfg Config, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if keys == nil {
		keys = features.NewDistrictKeys(nil)
	}
	if cfg.TopFactors <= 0 {
		cfg.TopFactors = DefaultTopFactors
	}
	return &Service{
		store:    store,
		bundles:  bundles,
		history:  history,
		enricher: enricher,
		keys:     keys,
		config:   cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// assemblerFor returns the assembler built for the given bundle, building
// it on first use. The temporal cache lives as long as the bundle does.
func (s *Service) assemblerFor(bundle *artifacts.Bundle) (*features.FeatureAssembler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bundle == bundle && s.assembler != nil {
		return s.assembler, nil
	}

	temporal := features.NewTemporalFeatureBuilder(s.config.Temporal, s.keys, s.history, s.logger).
		WithFallback(bundle.Set.TemporalFallback)

	assembler, err := features.NewFeatureAssembler(bundle.Schema, s.keys, bundle.Set.Encoders, bundle.Set.FillValues, temporal, s.enricher)
	if err != nil {
		return nil, err
	}
	s.bundle = bundle
	s.assembler = assembler
	return assembler, nil
}

// Predict prices one property. An unknown id returns an error matching
// database.ErrNotFound; every other failure is a *PredictionError.
func (s *Service) Predict(ctx context.Context, propertyID int64) (*models.Estimate, error) {
	start := time.Now()
	estimate, err := s.predict(ctx, propertyID)

	outcome := "ok"
	switch {
	case errors.Is(err, database.ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
		s.logger.WithError(err).WithField("property_id", propertyID).Error("Prediction failed")
	}
	predictionsTotal.WithLabelValues(outcome).Inc()
	predictionDuration.Observe(time.Since(start).Seconds())
	if estimate != nil {
		confidenceHistogram.Observe(estimate.Confidence)
	}
	return estimate, err
}

func (s *Service) predict(ctx context.Context, propertyID int64) (*models.Estimate, error) {
	fail := func(stage string, err error) error {
		return &PredictionError{PropertyID: propertyID, Stage: stage, Err: err}
	}

	// FETCH_PROPERTY
	property, err := s.store.GetProperty(ctx, propertyID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fail(StageFetchProperty, err)
	}

	bundle := s.bundles.Current()
	if bundle == nil {
		return nil, fail(StageLoadArtifacts, artifacts.ErrArtifactLoad)
	}
	set := bundle.Set

	// ASSEMBLE_FEATURES
	assembler, err := s.assemblerFor(bundle)
	if err != nil {
		return nil, fail(StageAssembleFeatures, err)
	}
	now := s.now()
	vector, err := assembler.Assemble(ctx, features.InputFromProperty(property, now))
	if err != nil {
		return nil, fail(StageAssembleFeatures, err)
	}

	// PREDICT
	price := bundle.Strategy.Primary().Predict(vector)
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, fail(StagePredict, fmt.Errorf("model returned %v", price))
	}
	price = math.Max(0, price)

	// ENSEMBLE_BLEND
	if set.Ensemble && set.Secondary != nil {
		blended := bundle.Strategy.Predict(vector)
		if math.IsNaN(blended) || math.IsInf(blended, 0) {
			return nil, fail(StageEnsembleBlend, fmt.Errorf("ensemble returned %v", blended))
		}
		price = math.Max(0, blended)
	}

	// CONFIDENCE_INTERVAL
	low, high := Interval(price, set.Residuals)

	// CONFIDENCE_SCORE
	score := Score(price, low, high, set.Residuals.MAPE, Completeness(property))

	// EXPLAIN
	_, contributions := bundle.Strategy.Explain(vector)
	if len(contributions) != len(bundle.Schema) {
		return nil, fail(StageExplain, fmt.Errorf("%d contributions for %d features", len(contributions), len(bundle.Schema)))
	}
	factors := Explain(bundle.Schema, contributions, s.config.TopFactors)

	// RESPOND
	return &models.Estimate{
		PropertyID:      property.ID,
		Price:           int64(math.Round(price)),
		MinPrice:        int64(math.Round(low)),
		MaxPrice:        int64(math.Round(high)),
		Confidence:      score,
		ConfidenceLevel: Level(score),
		Factors:         factors,
		ModelVersion:    set.Version,
		CreatedAt:       now,
	}, nil
}

// Explain ranks features by the size of their contribution and describes
// the top n
func Explain(schema features.Schema, contributions []float64, n int) []models.Factor {
	order := make([]int, 0, len(contributions))
	for i, c := range contributions {
		if c != 0 && !math.IsNaN(c) {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(contributions[order[a]]) > math.Abs(contributions[order[b]])
	})
	if len(order) > n {
		order = order[:n]
	}

	factors := make([]models.Factor, 0, len(order))
	for _, i := range order {
		c := contributions[i]
		direction := models.DirectionPositive
		verb := "raises"
		if c < 0 {
			direction = models.DirectionNegative
			verb = "lowers"
		}
		factors = append(factors, models.Factor{
			Name:         schema[i].Name,
			Contribution: c,
			Direction:    direction,
			Description:  fmt.Sprintf("%s %s the estimate by %s", schema[i].Label, verb, formatWon(math.Abs(c))),
		})
	}
	return factors
}

// formatWon renders an amount the way listings do, e.g. 1억 2,500만원
func formatWon(amount float64) string {
	manwon := int64(math.Round(amount / 10_000))
	eok, rest := manwon/10_000, manwon%10_000
	switch {
	case eok > 0 && rest > 0:
		return fmt.Sprintf("%d억 %s만원", eok, thousands(rest))
	case eok > 0:
		return fmt.Sprintf("%d억원", eok)
	case rest > 0:
		return fmt.Sprintf("%s만원", thousands(rest))
	default:
		return fmt.Sprintf("%d원", int64(math.Round(amount)))
	}
}

func thousands(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%d,%03d", n/1000, n%1000)
}

// SimilarTransactions returns recent sales in the property's district and
// area segment, newest first. Sales stored under another spelling of the
// district, such as "수원시 장안구" for "장안구", are included.
func (s *Service) SimilarTransactions(ctx context.Context, propertyID int64, limit int) ([]models.Transaction, error) {
	property, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	areaMin, areaMax := features.AreaSegmentRange(features.AreaSegment(property.AreaExclusive))
	districts := s.keys.Spellings(property.Province, property.District)
	return s.store.SimilarTransactions(ctx, property, districts, areaMin, areaMax, limit)
}
