package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var (
	ErrNoRows        = errors.New("no training rows")
	ErrWidthMismatch = errors.New("feature width mismatch")
)

// BoostingParams are the gradient boosting hyperparameters
type BoostingParams struct {
	Rounds              int
	LearningRate        float64
	MaxDepth            int
	MinSamplesLeaf      int
	Subsample           float64
	EarlyStoppingRounds int
	MaxBins             int
	Seed                int64
}

// DefaultBoostingParams are used when a search fails or is disabled
func DefaultBoostingParams() BoostingParams {
	return BoostingParams{
		Rounds:              400,
		LearningRate:        0.05,
		MaxDepth:            6,
		MinSamplesLeaf:      20,
		Subsample:           0.8,
		EarlyStoppingRounds: 30,
		MaxBins:             DefaultMaxBins,
		Seed:                42,
	}
}

// GradientBoosting is a squared-loss boosted tree ensemble
type GradientBoosting struct {
	Base          float64   `json:"base"`
	LearningRate  float64   `json:"learning_rate"`
	Trees         []*Tree   `json:"trees"`
	Width         int       `json:"width"`
	Importance    []float64 `json:"importance"`
	BestIteration int       `json:"best_iteration"`
	BestScore     float64   `json:"best_score"` // validation RMSE at BestIteration
}

func checkRows(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, ErrNoRows
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("%w: %d rows, %d targets", ErrWidthMismatch, len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("%w: row %d has %d features, want %d", ErrWidthMismatch, i, len(row), width)
		}
	}
	return width, nil
}

// FitGradientBoosting trains on (X, y). When a validation set is given the
// ensemble is cut back to the round with the lowest validation RMSE, and
// training stops once EarlyStoppingRounds rounds pass without improvement.
func FitGradientBoosting(X [][]float64, y []float64, Xval [][]float64, yval []float64, params BoostingParams) (*GradientBoosting, error) {
	width, err := checkRows(X, y)
	if err != nil {
		return nil, err
	}
	validate := len(Xval) > 0
	if validate {
		if _, err := checkRows(Xval, yval); err != nil {
			return nil, fmt.Errorf("validation set: %w", err)
		}
		if len(Xval[0]) != width {
			return nil, fmt.Errorf("%w: validation width %d, training width %d", ErrWidthMismatch, len(Xval[0]), width)
		}
	}

	defaults := DefaultBoostingParams()
	if params.Rounds <= 0 {
		params.Rounds = defaults.Rounds
	}
	if params.LearningRate <= 0 {
		params.LearningRate = defaults.LearningRate
	}
	if params.Subsample <= 0 || params.Subsample > 1 {
		params.Subsample = 1
	}

	var base float64
	for _, v := range y {
		base += v
	}
	base /= float64(len(y))

	model := &GradientBoosting{
		Base:         base,
		LearningRate: params.LearningRate,
		Width:        width,
	}

	data := newBinnedData(X, params.MaxBins)
	rng := rand.New(rand.NewSource(params.Seed))
	gains := make([]float64, width)
	treeGains := make([][]float64, 0, params.Rounds)

	predictions := make([]float64, len(X))
	for i := range predictions {
		predictions[i] = base
	}
	valPredictions := make([]float64, len(Xval))
	for i := range valPredictions {
		valPredictions[i] = base
	}

	residuals := make([]float64, len(X))
	sampleSize := int(math.Ceil(params.Subsample * float64(len(X))))
	model.BestScore = math.Inf(1)
	sinceBest := 0

	for round := 0; round < params.Rounds; round++ {
		for i := range residuals {
			residuals[i] = y[i] - predictions[i]
		}

		rows := rng.Perm(len(X))[:sampleSize]
		roundGains := make([]float64, width)
		tree := growTree(data, residuals, rows, TreeParams{
			MaxDepth:       params.MaxDepth,
			MinSamplesLeaf: params.MinSamplesLeaf,
		}, rng, roundGains)
		model.Trees = append(model.Trees, tree)
		treeGains = append(treeGains, roundGains)

		for i, row := range X {
			predictions[i] += params.LearningRate * tree.Predict(row)
		}

		if !validate {
			continue
		}
		var sse float64
		for i, row := range Xval {
			valPredictions[i] += params.LearningRate * tree.Predict(row)
			d := yval[i] - valPredictions[i]
			sse += d * d
		}
		score := math.Sqrt(sse / float64(len(Xval)))
		if score < model.BestScore {
			model.BestScore = score
			model.BestIteration = round + 1
			sinceBest = 0
		} else {
			sinceBest++
			if params.EarlyStoppingRounds > 0 && sinceBest >= params.EarlyStoppingRounds {
				break
			}
		}
	}

	if validate {
		model.Trees = model.Trees[:model.BestIteration]
		treeGains = treeGains[:model.BestIteration]
	} else {
		model.BestIteration = len(model.Trees)
	}
	for _, g := range treeGains {
		for f, v := range g {
			gains[f] += v
		}
	}
	model.Importance = normalise(gains)

	return model, nil
}

func (m *GradientBoosting) Predict(x []float64) float64 {
	p := m.Base
	for _, t := range m.Trees {
		p += m.LearningRate * t.Predict(x)
	}
	return p
}

// Contributions splits a prediction into a bias and one term per feature;
// bias plus the terms equals Predict(x)
func (m *GradientBoosting) Contributions(x []float64) (float64, []float64) {
	out := make([]float64, m.Width)
	bias := m.Base
	for _, t := range m.Trees {
		bias += m.LearningRate * t.attribute(x, m.LearningRate, out)
	}
	return bias, out
}

func (m *GradientBoosting) FeatureImportance() []float64 {
	return m.Importance
}

func (m *GradientBoosting) NumFeatures() int {
	return m.Width
}
