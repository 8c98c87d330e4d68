// Package training fits everything the prediction path serves: encoders,
// fill values, temporal fallbacks and the models, from historical
// transactions ordered by date.
package training

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/choiwjun/chamgab-sub000/config"
	"github.com/choiwjun/chamgab-sub000/internal/artifacts"
	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/ml"
	"github.com/choiwjun/chamgab-sub000/internal/models"
)

type Config struct {
	Folds           int
	Smoothing       float64
	TrainRatio      float64
	ValidationRatio float64
	Seed            int64

	Boosting             ml.BoostingParams
	HyperparameterSearch bool

	FeatureSelection     bool
	ImportanceThreshold  float64
	CorrelationThreshold float64

	Ensemble       bool
	EnsembleWeight float64
	Forest         ml.ForestParams

	Temporal features.TemporalConfig
}

// DefaultConfig mirrors the environment defaults
func DefaultConfig() Config {
	return Config{
		Folds:                features.DefaultFolds,
		Smoothing:            features.DefaultSmoothing,
		TrainRatio:           0.70,
		ValidationRatio:      0.15,
		Seed:                 42,
		Boosting:             ml.DefaultBoostingParams(),
		ImportanceThreshold:  0.001,
		CorrelationThreshold: 0.95,
		EnsembleWeight:       ml.DefaultEnsembleWeight,
		Forest:               ml.DefaultForestParams(),
	}
}

// ConfigFromEnv maps the training and temporal sections of the service
// configuration
func ConfigFromEnv(cfg *config.Config) Config {
	t := cfg.Training
	out := DefaultConfig()
	out.Folds = t.KFolds
	out.Smoothing = t.Smoothing
	out.TrainRatio = t.TrainRatio
	out.ValidationRatio = t.ValidationRatio
	out.Seed = t.Seed

	out.Boosting.Rounds = t.Rounds
	out.Boosting.LearningRate = t.LearningRate
	out.Boosting.MaxDepth = t.MaxDepth
	out.Boosting.MinSamplesLeaf = t.MinSamplesLeaf
	out.Boosting.Subsample = t.Subsample
	out.Boosting.EarlyStoppingRounds = t.EarlyStoppingRounds
	out.Boosting.Seed = t.Seed
	out.HyperparameterSearch = t.HyperparameterSearch

	out.FeatureSelection = t.FeatureSelection
	out.ImportanceThreshold = t.ImportanceThreshold
	out.CorrelationThreshold = t.CorrelationThreshold

	out.Ensemble = t.Ensemble
	out.EnsembleWeight = t.EnsembleWeight
	out.Forest.Trees = t.ForestTrees
	out.Forest.Seed = t.Seed

	out.Temporal = features.TemporalConfig{
		MinHistory:     cfg.Temporal.MinHistory,
		LookbackMonths: cfg.Temporal.LookbackMonths,
		CacheSize:      cfg.Temporal.CacheSize,
		CacheTTL:       time.Duration(cfg.Temporal.CacheTTL) * time.Second,
	}
	return out
}

// BuildingSource lists stored properties, with their complexes preloaded,
// and complexes so that sales can be joined to building facts
type BuildingSource interface {
	ListBuildings(ctx context.Context) ([]models.Property, []models.Complex, error)
}

// Pipeline is a single training run configuration
type Pipeline struct {
	config    Config
	keys      *features.DistrictKeys
	enricher  features.Enricher
	buildings BuildingSource
	logger    *logrus.Logger
}

// Result is a trained artifact set with what went into it
type Result struct {
	Set      *artifacts.Set
	Params   ml.BoostingParams
	Dropped  []string // columns removed by feature selection
	Rows     struct{ Train, Validation, Test int }
	Duration time.Duration
}

func NewPipeline(cfg Config, keys *features.DistrictKeys, enricher features.Enricher, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if keys == nil {
		keys = features.NewDistrictKeys(nil)
	}
	if cfg.EnsembleWeight <= 0 || cfg.EnsembleWeight >= 1 {
		cfg.EnsembleWeight = ml.DefaultEnsembleWeight
	}
	if cfg.TrainRatio <= 0 || cfg.ValidationRatio <= 0 || cfg.TrainRatio+cfg.ValidationRatio >= 1 {
		cfg.TrainRatio, cfg.ValidationRatio = 0.70, 0.15
	}
	return &Pipeline{config: cfg, keys: keys, enricher: enricher, logger: logger}
}

// WithBuildings joins every sale to its stored building before feature
// construction. Without a source, storey count and complex columns are
// left missing.
func (p *Pipeline) WithBuildings(src BuildingSource) *Pipeline {
	p.buildings = src
	return p
}

func (p *Pipeline) loadBuildings(ctx context.Context) (*features.Buildings, error) {
	if p.buildings == nil {
		return nil, nil
	}
	properties, complexes, err := p.buildings.ListBuildings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load buildings: %w", err)
	}
	return features.NewBuildings(p.keys, properties, complexes), nil
}

// Train runs the full pipeline over historical transactions. The returned
// set has been validated and can be saved as is.
func (p *Pipeline) Train(ctx context.Context, txs []models.Transaction) (*Result, error) {
	start := time.Now()
	result, err := p.train(ctx, txs)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	trainingRuns.WithLabelValues(outcome).Inc()
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	trainingDuration.Set(result.Duration.Seconds())
	p.logger.WithFields(logrus.Fields{
		"version":  result.Set.Version,
		"duration": result.Duration.String(),
		"mape":     result.Set.Metrics.MAPE,
		"r2":       result.Set.Metrics.R2,
		"ensemble": result.Set.Ensemble,
	}).Info("Training finished")
	return result, nil
}

func (p *Pipeline) train(ctx context.Context, txs []models.Transaction) (*Result, error) {
	cfg := p.config
	logger := p.logger

	samples, err := clean(txs, p.keys)
	if err != nil {
		return nil, err
	}
	n := len(samples)
	trainEnd, valEnd := split(n, cfg.TrainRatio, cfg.ValidationRatio)
	result := &Result{}
	result.Rows.Train, result.Rows.Validation, result.Rows.Test = trainEnd, valEnd-trainEnd, n-valEnd
	logger.WithFields(logrus.Fields{
		"input":      len(txs),
		"cleaned":    n,
		"train":      result.Rows.Train,
		"validation": result.Rows.Validation,
		"test":       result.Rows.Test,
	}).Info("Prepared training data")

	targets := make([]float64, n)
	for i, s := range samples {
		targets[i] = float64(s.tx.Price)
	}

	// Temporal features in one chronological pass; the fallback comes from
	// the training partition only
	temporalRows := make([]features.TemporalRow, n)
	for i, s := range samples {
		temporalRows[i] = features.TemporalRow{
			Date:         s.tx.TransactionDate,
			DistrictKey:  s.districtKey,
			BuildingName: s.tx.BuildingName,
			Area:         s.tx.AreaExclusive,
			Price:        targets[i],
		}
	}
	builder := features.NewTemporalFeatureBuilder(cfg.Temporal, p.keys, nil, logger)
	temporal := builder.BuildTraining(temporalRows)
	fallback := features.FitTemporalFallback(targets[:trainEnd], temporal[:trainEnd])
	fallback.Fill(temporal)

	// Categorical encoders fitted on training targets only
	encoders, encoded, err := p.fitEncoders(samples, targets, trainEnd)
	if err != nil {
		return nil, err
	}

	buildings, err := p.loadBuildings(ctx)
	if err != nil {
		return nil, err
	}
	matched := 0

	schema := features.DefaultSchema
	raw := make([][]float64, n)
	for i := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tx := &samples[i].tx
		in := buildings.Attach(features.InputFromTransaction(tx))
		if in.TotalFloors != nil || in.Complex != nil {
			matched++
		}
		row := features.BaseRow(in)
		if p.enricher != nil {
			row.Merge(p.enricher.Features(ctx, tx.Province, tx.District, tx.Location(), tx.TransactionDate))
		}
		row.Merge(temporal[i].Row())
		row.Merge(encoded[i])
		raw[i] = schema.Project(row)
	}

	if buildings != nil {
		logger.WithFields(logrus.Fields{
			"buildings": buildings.Len(),
			"matched":   matched,
		}).Info("Joined sales to stored buildings")
	}

	trainRaw := matrix{X: raw[:trainEnd], y: targets[:trainEnd]}
	valRaw := matrix{X: raw[trainEnd:valEnd], y: targets[trainEnd:valEnd]}
	testRaw := matrix{X: raw[valEnd:], y: targets[valEnd:]}

	fit := func(schema features.Schema, columns []int) (*fitted, error) {
		return p.fitModel(schema, columns, trainRaw, valRaw, testRaw)
	}

	columns := make([]int, len(schema))
	for i := range columns {
		columns[i] = i
	}
	model, err := fit(schema, columns)
	if err != nil {
		return nil, err
	}

	if cfg.FeatureSelection {
		kept := selectFeatures(model.train.X, model.booster.FeatureImportance(), cfg.ImportanceThreshold, cfg.CorrelationThreshold)
		if len(kept) < len(schema) {
			names := make([]string, len(kept))
			for i, c := range kept {
				names[i] = schema[c].Name
			}
			sub, _ := schema.Select(names)
			selected, err := fit(sub, kept)
			switch {
			case err != nil:
				logger.WithError(err).Warn("Retraining on selected features failed, keeping all features")
			case selected.metrics.MAPE > model.metrics.MAPE:
				logger.WithFields(logrus.Fields{
					"selected_mape": selected.metrics.MAPE,
					"full_mape":     model.metrics.MAPE,
				}).Info("Feature selection did not help, keeping all features")
			default:
				for c := range schema {
					if !contains(kept, c) {
						result.Dropped = append(result.Dropped, schema[c].Name)
					}
				}
				logger.WithField("dropped", result.Dropped).Info("Feature selection applied")
				model = selected
			}
		}
	}

	set := &artifacts.Set{
		Version:          artifacts.NewVersion(),
		TrainedAt:        time.Now().UTC(),
		FeatureNames:     model.schema.Names(),
		Encoders:         encoders,
		FillValues:       model.imputer,
		TemporalFallback: fallback,
		EnsembleWeight:   cfg.EnsembleWeight,
		Metrics:          model.metrics,
		TrainingRows:     trainEnd,
	}
	if set.Primary, err = ml.Wrap(model.booster); err != nil {
		return nil, err
	}
	testPredictions := model.testPredictions

	if cfg.Ensemble {
		blended, forest, err := p.tryEnsemble(model)
		switch {
		case err != nil:
			logger.WithError(err).Warn("Secondary model failed, serving the primary alone")
		case blended != nil:
			if set.Secondary, err = ml.Wrap(forest); err != nil {
				return nil, err
			}
			set.Ensemble = true
			testPredictions = blended
			set.Metrics = ml.Evaluate(model.test.y, blended)
		}
	}

	set.Residuals = artifacts.ResidualStats{
		Percentiles: ml.Percentiles(ml.Residuals(model.test.y, testPredictions), artifacts.ResidualPercentiles),
		MAPE:        set.Metrics.MAPE,
	}

	if _, err := artifacts.NewBundle(set); err != nil {
		return nil, fmt.Errorf("trained set is not servable: %w", err)
	}
	result.Set = set
	result.Params = model.params
	return result, nil
}

// fitEncoders fits the district, dong and province encoders on the first
// trainEnd rows. Training rows get out-of-fold encodings; the later rows
// get the full mappings, as a prediction would.
func (p *Pipeline) fitEncoders(samples []sample, targets []float64, trainEnd int) (features.Encoders, []features.Row, error) {
	cfg := p.config
	n := len(samples)
	districtKeys := make([]string, n)
	dongKeys := make([]string, n)
	provinces := make([]string, trainEnd)
	for i, s := range samples {
		districtKeys[i] = s.districtKey
		dongKeys[i] = p.keys.SubDistrictKey(s.districtKey, s.tx.SubDistrict)
		if i < trainEnd {
			provinces[i] = s.tx.Province
		}
	}

	district, districtOOF, err := features.FitTargetEncoder(districtKeys[:trainEnd], targets[:trainEnd], cfg.Smoothing, cfg.Folds, cfg.Seed)
	if err != nil {
		return features.Encoders{}, nil, fmt.Errorf("failed to fit district encoder: %w", err)
	}
	dong, dongOOF, err := features.FitTargetEncoder(dongKeys[:trainEnd], targets[:trainEnd], cfg.Smoothing, cfg.Folds, cfg.Seed+1)
	if err != nil {
		return features.Encoders{}, nil, fmt.Errorf("failed to fit dong encoder: %w", err)
	}
	if district.Folds < cfg.Folds {
		p.logger.WithFields(logrus.Fields{
			"requested": cfg.Folds,
			"used":      district.Folds,
		}).Warn("Fewer training rows than folds, target encoding degraded")
	}
	province := features.FitLabelEncoder(provinces)

	rows := make([]features.Row, n)
	for i, s := range samples {
		row := features.Row{features.FeatureProvince: float64(province.Transform(s.tx.Province))}
		if i < trainEnd {
			row[features.FeatureDistrictEnc] = districtOOF[i]
			row[features.FeatureSubDistrictEnc] = dongOOF[i]
		} else {
			row[features.FeatureDistrictEnc] = district.Transform(districtKeys[i])
			row[features.FeatureSubDistrictEnc] = dong.Transform(dongKeys[i])
		}
		rows[i] = row
	}

	return features.Encoders{District: district, SubDistrict: dong, Province: province}, rows, nil
}

// fitted is one trained primary model and the data it was evaluated on
type fitted struct {
	schema          features.Schema
	imputer         *features.MissingValueStrategy
	params          ml.BoostingParams
	booster         *ml.GradientBoosting
	train, val      matrix
	test            matrix
	testPredictions []float64
	metrics         ml.Metrics
}

// fitModel imputes the selected columns with fill values fitted on the
// training rows, trains the booster with early stopping on validation and
// evaluates on test
func (p *Pipeline) fitModel(schema features.Schema, columns []int, trainRaw, valRaw, testRaw matrix) (*fitted, error) {
	train := trainRaw.columns(columns)
	val := valRaw.columns(columns)
	test := testRaw.columns(columns)

	imputer, err := features.FitMissingValueStrategy(schema, train.vectors())
	if err != nil {
		return nil, fmt.Errorf("failed to fit fill values: %w", err)
	}
	for _, m := range []matrix{train, val, test} {
		if err := m.impute(imputer); err != nil {
			return nil, fmt.Errorf("failed to impute: %w", err)
		}
	}

	params := p.config.Boosting
	if p.config.HyperparameterSearch {
		searched, err := searchParams(train, val, params, p.logger)
		if err != nil {
			p.logger.WithError(err).Warn("Hyperparameter search failed, using defaults")
			params = ml.DefaultBoostingParams()
		} else {
			params = searched
		}
	}

	booster, err := ml.FitGradientBoosting(train.X, train.y, val.X, val.y, params)
	if err != nil {
		return nil, fmt.Errorf("failed to train model: %w", err)
	}

	predictions := ml.PredictAll(booster, test.X)
	metrics := ml.Evaluate(test.y, predictions)
	p.logger.WithFields(logrus.Fields{
		"features":       len(schema),
		"trees":          len(booster.Trees),
		"best_iteration": booster.BestIteration,
		"mae":            metrics.MAE,
		"rmse":           metrics.RMSE,
		"r2":             metrics.R2,
		"mape":           metrics.MAPE,
	}).Info("Trained primary model")

	return &fitted{
		schema:          schema,
		imputer:         imputer,
		params:          params,
		booster:         booster,
		train:           train,
		val:             val,
		test:            test,
		testPredictions: predictions,
		metrics:         metrics,
	}, nil
}

// tryEnsemble trains the secondary forest and returns the blended test
// predictions when blending lowers test MAPE, or nil otherwise
func (p *Pipeline) tryEnsemble(model *fitted) ([]float64, *ml.RandomForest, error) {
	weight := p.config.EnsembleWeight
	forest, err := ml.FitRandomForest(model.train.X, model.train.y, p.config.Forest)
	if err != nil {
		return nil, nil, err
	}
	secondary := ml.PredictAll(forest, model.test.X)
	blended := make([]float64, len(secondary))
	for i := range blended {
		blended[i] = weight*model.testPredictions[i] + (1-weight)*secondary[i]
	}

	blendedMAPE := ml.Evaluate(model.test.y, blended).MAPE
	fields := logrus.Fields{"single_mape": model.metrics.MAPE, "blended_mape": blendedMAPE}
	if math.IsNaN(blendedMAPE) || blendedMAPE >= model.metrics.MAPE {
		p.logger.WithFields(fields).Info("Ensemble did not improve MAPE, serving the primary alone")
		return nil, nil, nil
	}
	p.logger.WithFields(fields).Info("Ensemble kept")
	return blended, forest, nil
}

func contains(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
