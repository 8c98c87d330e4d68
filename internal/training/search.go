package training

import (
	"errors"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/choiwjun/chamgab-sub000/internal/ml"
)

var errSearchFailed = errors.New("no hyperparameter candidate trained")

// searchGrid is crossed with the configured parameters
var searchGrid = struct {
	learningRates []float64
	depths        []int
	leaves        []int
}{
	learningRates: []float64{0.03, 0.05, 0.1},
	depths:        []int{4, 6, 8},
	leaves:        []int{10, 20},
}

type candidate struct {
	params ml.BoostingParams
	score  float64
	err    error
}

// searchParams trains one model per grid point concurrently and returns
// the parameters with the lowest validation RMSE
func searchParams(train, val matrix, base ml.BoostingParams, logger *logrus.Logger) (ml.BoostingParams, error) {
	var candidates []*candidate
	for _, lr := range searchGrid.learningRates {
		for _, depth := range searchGrid.depths {
			for _, leaf := range searchGrid.leaves {
				p := base
				p.LearningRate = lr
				p.MaxDepth = depth
				p.MinSamplesLeaf = leaf
				candidates = append(candidates, &candidate{params: p})
			}
		}
	}

	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(c *candidate) {
			defer wg.Done()
			model, err := ml.FitGradientBoosting(train.X, train.y, val.X, val.y, c.params)
			if err != nil {
				c.err = err
				return
			}
			c.score = model.BestScore
		}(c)
	}
	wg.Wait()

	var best *candidate
	for _, c := range candidates {
		if c.err != nil {
			logger.WithError(c.err).WithFields(logrus.Fields{
				"learning_rate": c.params.LearningRate,
				"max_depth":     c.params.MaxDepth,
			}).Warn("Hyperparameter candidate failed")
			continue
		}
		if math.IsNaN(c.score) || math.IsInf(c.score, 0) {
			continue
		}
		if best == nil || c.score < best.score {
			best = c
		}
	}
	if best == nil {
		return base, errSearchFailed
	}

	logger.WithFields(logrus.Fields{
		"learning_rate":    best.params.LearningRate,
		"max_depth":        best.params.MaxDepth,
		"min_samples_leaf": best.params.MinSamplesLeaf,
		"validation_rmse":  best.score,
	}).Info("Hyperparameter search finished")
	return best.params, nil
}
